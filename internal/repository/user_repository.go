package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/account-service/internal/model"
)

const userColumns = "id,user_id,name,email,mobile,country_code,password_hash,email_verified,mobile_verified,roles,avatar,created_at,updated_at"

// UserRepo persists users in the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail lower-cases and trims an address. Every lookup and insert
// goes through it so the unique index behaves case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u      model.User
		email  sql.NullString
		mobile sql.NullString
	)
	err := row.Scan(&u.ID, &u.UserID, &u.Name, &email, &mobile, &u.CountryCode, &u.PasswordHash,
		&u.EmailVerified, &u.MobileVerified, &u.Roles, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, ErrUserNotFound
		}
		return u, err
	}
	u.Email = email.String
	u.Mobile = mobile.String
	return u, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// Create inserts u. u.UserID must already be assigned.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Roles == nil {
		u.Roles = model.GroupRoles{}
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (user_id,name,email,mobile,country_code,password_hash,email_verified,mobile_verified,roles,avatar,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.UserID, u.Name, nullable(u.Email), nullable(u.Mobile), u.CountryCode, u.PasswordHash,
		u.EmailVerified, u.MobileVerified, u.Roles, u.Avatar, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		u.ID = uint64(id)
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email)))
}

// GetByUserID fetches a user by its public identifier.
func (r *UserRepo) GetByUserID(ctx context.Context, userID string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE user_id=? LIMIT 1", userID))
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// List returns a page of users ordered by name.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY name, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateProfile writes the editable profile columns of u.
func (r *UserRepo) UpdateProfile(ctx context.Context, u model.User) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET name=?, mobile=?, country_code=?, updated_at=? WHERE user_id=?",
		u.Name, nullable(u.Mobile), u.CountryCode, u.UpdatedAt, u.UserID)
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, userID, hash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE user_id=?", hash, userID)
	return err
}

// SetEmailVerified flips the email verification flag.
func (r *UserRepo) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verified=? WHERE user_id=?", verified, userID)
	return err
}

// SetRoles replaces the group-to-roles map.
func (r *UserRepo) SetRoles(ctx context.Context, userID string, roles model.GroupRoles) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET roles=? WHERE user_id=?", roles, userID)
	return err
}

// SetAvatar records the public avatar location.
func (r *UserRepo) SetAvatar(ctx context.Context, userID, avatar string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET avatar=? WHERE user_id=?", avatar, userID)
	return err
}

// Drop deletes the user. ErrUserNotFound when nothing was deleted.
func (r *UserRepo) Drop(ctx context.Context, userID string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE user_id=?", userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
