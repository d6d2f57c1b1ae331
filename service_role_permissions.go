package grantkit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// ============================================================================
// ROLE <-> PERMISSION LINKAGE
// ============================================================================

// AddPermissions attaches permissions to a role without touching its existing
// links. Unresolvable refs are dropped; already-linked permissions are
// skipped. Returns true when at least one new link was written.
func (s *Service) AddPermissions(ctx context.Context, role RoleRef, perms ...PermissionRef) (bool, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	permIDs, err := s.resolvePermissionIDs(ctx, perms)
	if err != nil {
		return false, err
	}
	if len(permIDs) == 0 {
		return false, nil
	}

	linked, err := s.linkedPermissionIDs(ctx, roleID)
	if err != nil {
		return false, err
	}

	now := s.now()
	var links []RolePermission
	for _, id := range permIDs {
		if _, exists := linked[id]; exists {
			continue
		}
		links = append(links, RolePermission{RoleID: roleID, PermissionID: id, CreatedAt: now})
	}
	if len(links) == 0 {
		return false, nil
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		_, err := tx.db.NewInsert().Model(&links).Exec(ctx)
		return dbkit.WithErr1(err, "AddPermissions").Err()
	})
	if err != nil {
		return false, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, roleID)
	return true, nil
}

// DetachRolePermissions removes the given permission links from a role.
// Unresolvable refs and absent links are ignored. Returns true when at least
// one link was removed.
func (s *Service) DetachRolePermissions(ctx context.Context, role RoleRef, perms ...PermissionRef) (bool, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	permIDs, err := s.resolvePermissionIDs(ctx, perms)
	if err != nil {
		return false, err
	}
	if len(permIDs) == 0 {
		return false, nil
	}

	var removed int64
	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		res, err := tx.db.NewDelete().Model((*RolePermission)(nil)).
			Where("role_id = ?", roleID).
			Where("permission_id IN (?)", bun.In(permIDs)).
			Exec(ctx)
		if err != nil {
			return dbkit.WithErr1(err, "DetachRolePermissions").Err()
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, roleID)
	return true, nil
}

// SyncPermissions makes the role's links exactly the given set: links outside
// it are detached, missing ones attached, in one transaction. An empty
// resolved set strips the role bare. Returns true when anything changed.
func (s *Service) SyncPermissions(ctx context.Context, role RoleRef, perms ...PermissionRef) (bool, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	permIDs, err := s.resolvePermissionIDs(ctx, perms)
	if err != nil {
		return false, err
	}

	linked, err := s.linkedPermissionIDs(ctx, roleID)
	if err != nil {
		return false, err
	}

	target := make(map[int64]struct{}, len(permIDs))
	for _, id := range permIDs {
		target[id] = struct{}{}
	}

	var toDetach []int64
	for id := range linked {
		if _, keep := target[id]; !keep {
			toDetach = append(toDetach, id)
		}
	}
	now := s.now()
	var toAttach []RolePermission
	for _, id := range permIDs {
		if _, exists := linked[id]; !exists {
			toAttach = append(toAttach, RolePermission{RoleID: roleID, PermissionID: id, CreatedAt: now})
		}
	}
	if len(toDetach) == 0 && len(toAttach) == 0 {
		return false, nil
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		if len(toDetach) > 0 {
			_, err := tx.db.NewDelete().Model((*RolePermission)(nil)).
				Where("role_id = ?", roleID).
				Where("permission_id IN (?)", bun.In(toDetach)).
				Exec(ctx)
			if err != nil {
				return dbkit.WithErr1(err, "SyncPermissionsDetach").Err()
			}
		}
		if len(toAttach) > 0 {
			_, err := tx.db.NewInsert().Model(&toAttach).Exec(ctx)
			if err != nil {
				return dbkit.WithErr1(err, "SyncPermissionsAttach").Err()
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, roleID)
	return true, nil
}

// RolePermissions returns the permissions currently linked to a role.
func (s *Service) RolePermissions(ctx context.Context, role RoleRef) ([]Permission, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(ErrRoleNotFound, "role does not exist").WithRole(role.slug)
	}

	var perms []Permission
	err = s.db.NewSelect().Model(&perms).
		Join("JOIN role_permissions AS rp ON rp.permission_id = p.id").
		Where("rp.role_id = ?", roleID).
		Order("p.slug ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbkit.WithErr1(err, "RolePermissions").Err()
	}
	return perms, nil
}

// linkedPermissionIDs returns the ids currently linked to the role.
func (s *Service) linkedPermissionIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error) {
	var ids []int64
	err := s.db.NewSelect().Model((*RolePermission)(nil)).
		Column("permission_id").
		Where("role_id = ?", roleID).
		Scan(ctx, &ids)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbkit.WithErr1(err, "LinkedPermissionIDs").Err()
	}
	linked := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		linked[id] = struct{}{}
	}
	return linked, nil
}
