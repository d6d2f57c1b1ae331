package grantkit

import (
	"context"
	"errors"
)

// AdminPermissions is the stock capability list an administrative
// installation starts from.
var AdminPermissions = []string{
	"browse admin",
	"view permission",
	"browse permissions",
	"create permission",
	"update permission",
	"delete permission",
	"browse roles",
	"create role",
	"update role",
	"delete role",
	"assign roles",
	"delete admins",
	"view user",
	"browse users",
	"impersonate user",
	"create user",
	"update user",
	"delete user",
	"view plan",
	"browse plans",
	"create plan",
	"update plan",
	"delete plan",
}

// Seed bootstraps the default administrative hierarchy: the stock permission
// list, an "admin" parent role, and two children under it. "admin-root"
// carries every permission; "admin-basic" carries everything except
// "delete admins". Safe to run repeatedly: existing slugs are left alone.
func (s *Service) Seed(ctx context.Context) error {
	if _, err := s.CreatePermissions(ctx, s.config.DefaultType, AdminPermissions...); err != nil {
		return err
	}

	parent, err := s.seedRole(ctx, RoleInput{Name: "Admin", Type: s.config.DefaultType}, "admin")
	if err != nil {
		return err
	}

	root, err := s.seedRole(ctx, RoleInput{
		Name:        "Root",
		Type:        s.config.DefaultType,
		Description: "Full administrative access",
		Parent:      RoleModel(parent),
	}, "admin-root")
	if err != nil {
		return err
	}

	basic, err := s.seedRole(ctx, RoleInput{
		Name:        "Basic",
		Type:        s.config.DefaultType,
		Description: "Administrative access without admin removal",
		Parent:      RoleModel(parent),
	}, "admin-basic")
	if err != nil {
		return err
	}

	rootPerms := make([]PermissionRef, 0, len(AdminPermissions))
	basicPerms := make([]PermissionRef, 0, len(AdminPermissions))
	for _, name := range AdminPermissions {
		ref := PermissionByName(name)
		rootPerms = append(rootPerms, ref)
		if name != "delete admins" {
			basicPerms = append(basicPerms, ref)
		}
	}

	if _, err := s.SyncPermissions(ctx, RoleModel(root), rootPerms...); err != nil {
		return err
	}
	if _, err := s.SyncPermissions(ctx, RoleModel(basic), basicPerms...); err != nil {
		return err
	}
	return nil
}

// seedRole creates a role unless its slug already exists.
func (s *Service) seedRole(ctx context.Context, input RoleInput, slug string) (*Role, error) {
	existing, err := s.FindRole(ctx, RoleBySlug(slug))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}
	return s.CreateRole(ctx, input)
}
