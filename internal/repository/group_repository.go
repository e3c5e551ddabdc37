package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iliyamo/account-service/internal/model"
)

// GroupRepo reads the group catalogue. The catalogue changes only when the
// role file is re-seeded, so lookups are served from a small expiring LRU.
type GroupRepo struct {
	DB    *sql.DB
	cache *expirable.LRU[string, []model.GroupRole]
}

func NewGroupRepo(db *sql.DB, size int, ttl time.Duration) *GroupRepo {
	if size <= 0 {
		size = 256
	}
	return &GroupRepo{DB: db, cache: expirable.NewLRU[string, []model.GroupRole](size, nil, ttl)}
}

// Roles returns every role offered by group, heaviest first.
func (r *GroupRepo) Roles(ctx context.Context, group string) ([]model.GroupRole, error) {
	if rows, ok := r.cache.Get(group); ok {
		return rows, nil
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT group_name, role_name, is_default, weight, description
		   FROM group_roles WHERE group_name=? ORDER BY weight DESC, role_name`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GroupRole
	for rows.Next() {
		var gr model.GroupRole
		if err := rows.Scan(&gr.Group, &gr.RoleName, &gr.IsDefault, &gr.Weight, &gr.Description); err != nil {
			return nil, err
		}
		out = append(out, gr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrGroupNotFound
	}
	r.cache.Add(group, out)
	return out, nil
}

// DefaultRole returns the role granted on sign up in group, or "" when the
// group exists but declares no default.
func (r *GroupRepo) DefaultRole(ctx context.Context, group string) (string, error) {
	roles, err := r.Roles(ctx, group)
	if err != nil {
		return "", err
	}
	for _, gr := range roles {
		if gr.IsDefault {
			return gr.RoleName, nil
		}
	}
	return "", nil
}
