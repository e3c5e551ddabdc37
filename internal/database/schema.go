package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/account-service/internal/model"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id         CHAR(36)     NOT NULL,
		name            VARCHAR(128) NOT NULL DEFAULT '',
		email           VARCHAR(320) NULL,
		mobile          VARCHAR(32)  NULL,
		country_code    VARCHAR(8)   NOT NULL DEFAULT '',
		password_hash   VARCHAR(255) NOT NULL,
		email_verified  TINYINT(1)   NOT NULL DEFAULT 0,
		mobile_verified TINYINT(1)   NOT NULL DEFAULT 0,
		roles           JSON         NOT NULL,
		avatar          VARCHAR(512) NOT NULL DEFAULT '',
		created_at      DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_user_id (user_id),
		UNIQUE KEY uq_users_email (email),
		UNIQUE KEY uq_users_mobile (mobile)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS group_roles (
		group_name  VARCHAR(64)  NOT NULL,
		role_name   VARCHAR(64)  NOT NULL,
		is_default  TINYINT(1)   NOT NULL DEFAULT 0,
		weight      INT          NOT NULL DEFAULT 0,
		description VARCHAR(255) NOT NULL DEFAULT '',
		PRIMARY KEY (group_name, role_name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// Migrate creates the tables the service needs when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SeedGroups upserts the group catalogue in one transaction.
func SeedGroups(ctx context.Context, db *sql.DB, rows []model.GroupRole) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO group_roles (group_name, role_name, is_default, weight, description)
		VALUES (?,?,?,?,?)
		ON DUPLICATE KEY UPDATE is_default=VALUES(is_default), weight=VALUES(weight), description=VALUES(description)`
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, q, r.Group, r.RoleName, r.IsDefault, r.Weight, r.Description); err != nil {
			return fmt.Errorf("seed group %s/%s: %w", r.Group, r.RoleName, err)
		}
	}
	return tx.Commit()
}
