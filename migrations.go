package grantkit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Migrations returns all database migrations required for GrantKit.
// Use service.Migrate(ctx) or dbkit's migration runner directly.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "grantkit-001",
			Description: "Create roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS roles (
                    id BIGSERIAL PRIMARY KEY,
                    name TEXT NOT NULL,
                    slug TEXT NOT NULL,
                    type TEXT NOT NULL,
                    description TEXT NOT NULL DEFAULT '',
                    usable BOOLEAN NOT NULL DEFAULT TRUE,
                    permitable_type TEXT,
                    permitable_id TEXT,
                    parent_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    deleted_at TIMESTAMPTZ
                );
                CREATE UNIQUE INDEX IF NOT EXISTS roles_slug_idx ON roles (slug);
                CREATE INDEX IF NOT EXISTS roles_parent_idx ON roles (parent_id);
                CREATE INDEX IF NOT EXISTS roles_permitable_idx ON roles (permitable_type, permitable_id)`,
		},
		{
			ID:          "grantkit-002",
			Description: "Create permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS permissions (
                    id BIGSERIAL PRIMARY KEY,
                    name TEXT NOT NULL,
                    slug TEXT NOT NULL,
                    type TEXT NOT NULL,
                    description TEXT NOT NULL DEFAULT '',
                    usable BOOLEAN NOT NULL DEFAULT TRUE,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    deleted_at TIMESTAMPTZ
                );
                CREATE UNIQUE INDEX IF NOT EXISTS permissions_slug_idx ON permissions (slug)`,
		},
		{
			ID:          "grantkit-003",
			Description: "Create role_permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_permissions (
                    role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
                    permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    PRIMARY KEY (role_id, permission_id)
                )`,
		},
		{
			ID:          "grantkit-004",
			Description: "Create principal_roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS principal_roles (
                    id BIGSERIAL PRIMARY KEY,
                    principal_type TEXT NOT NULL,
                    principal_id TEXT NOT NULL,
                    role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
                    permitable_type TEXT,
                    permitable_id TEXT,
                    expires_at TIMESTAMPTZ,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                );
                CREATE INDEX IF NOT EXISTS principal_roles_principal_idx
                    ON principal_roles (principal_type, principal_id);
                CREATE INDEX IF NOT EXISTS principal_roles_role_idx
                    ON principal_roles (role_id)`,
		},
		{
			ID:          "grantkit-005",
			Description: "Create principal_permissions table",
			SQL: `
                CREATE TABLE IF NOT EXISTS principal_permissions (
                    id BIGSERIAL PRIMARY KEY,
                    principal_type TEXT NOT NULL,
                    principal_id TEXT NOT NULL,
                    permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
                    expires_at TIMESTAMPTZ,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                );
                CREATE INDEX IF NOT EXISTS principal_permissions_principal_idx
                    ON principal_permissions (principal_type, principal_id);
                CREATE INDEX IF NOT EXISTS principal_permissions_permission_idx
                    ON principal_permissions (permission_id)`,
		},
	}
}

// Migrate runs the GrantKit migrations against the service's database.
// The service must be backed by a dbkit.DBKit instance, not a transaction.
func (s *Service) Migrate(ctx context.Context) error {
	db, ok := s.db.(*dbkit.DBKit)
	if !ok {
		return NewError(ErrStoreError, "migrations require a dbkit.DBKit instance")
	}
	_, err := db.Migrate(ctx, Migrations())
	return err
}
