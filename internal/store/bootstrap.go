package store

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

const systemTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    username      TEXT NOT NULL UNIQUE,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    active        BOOLEAN DEFAULT true,
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    updated_at    TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS roles (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        TEXT NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS permissions (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        TEXT NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id       UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role_id UUID NOT NULL REFERENCES roles(id),
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    token      UUID PRIMARY KEY,
    user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS column_semantics (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    domain        TEXT NOT NULL,
    table_name    TEXT NOT NULL,
    column_name   TEXT NOT NULL,
    semantic_type TEXT NOT NULL,
    metadata      JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ DEFAULT NOW(),
    updated_at    TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (table_name, column_name)
);

CREATE TABLE IF NOT EXISTS order_status_ref (
    code       TEXT PRIMARY KEY,
    label      TEXT NOT NULL,
    sort_order INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sheet_watermarks (
    domain          TEXT PRIMARY KEY,
    last_row_index  INT NOT NULL DEFAULT 0,
    imported_at     TIMESTAMPTZ DEFAULT NOW()
);
`

var orderStatuses = []struct {
	Code  string
	Label string
}{
	{"pending", "Pending"},
	{"confirmed", "Confirmed"},
	{"packed", "Packed"},
	{"shipped", "Shipped"},
	{"delivered", "Delivered"},
	{"returned", "Returned"},
	{"cancelled", "Cancelled"},
}

var seedRoles = []string{"administrator", "supervisor", "confirmation_agent"}

// Bootstrap ensures the system tables exist and seeds reference data,
// base roles, and the default admin account. Safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, systemTablesSQL); err != nil {
		return fmt.Errorf("create system tables: %w", err)
	}

	for i, st := range orderStatuses {
		_, err := s.Pool.Exec(ctx,
			`INSERT INTO order_status_ref (code, label, sort_order) VALUES ($1, $2, $3)
			 ON CONFLICT (code) DO NOTHING`,
			st.Code, st.Label, i)
		if err != nil {
			return fmt.Errorf("seed order status %s: %w", st.Code, err)
		}
	}

	for _, role := range seedRoles {
		_, err := s.Pool.Exec(ctx,
			`INSERT INTO roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, role)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
	}

	return s.seedAdminUser(ctx)
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash default password: %w", err)
	}

	var userID string
	err = s.Pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		"admin", "admin@localhost", string(hash)).Scan(&userID)
	if err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT $1, id FROM roles WHERE name = 'administrator'
		 ON CONFLICT DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("grant admin role: %w", err)
	}

	log.Println("Seeded default admin user (username: admin); change the password")
	return nil
}
