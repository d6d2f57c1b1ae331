package grantkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// ============================================================================
// ROLE GRANTS
// ============================================================================
//
// Mutations return a boolean outcome, not an error, for expected guard
// failures: an unresolvable identifier, a grant that already exists, an
// expiry already in the past. Errors are reserved for infrastructure
// failures. See the Service doc for the full contract.

// AssignRole grants a role to a principal, optionally bounded in time.
// Returns false without writing when the role does not resolve, the expiry
// is already past, or the principal already holds a currently-valid grant
// of the same role.
func (s *Service) AssignRole(ctx context.Context, p Principal, role RoleRef, expiresAt *time.Time) (bool, error) {
	return s.assignRole(ctx, p, role, expiresAt, nil)
}

// AssignRoleFrom is AssignRole with the grant scoped to the giver that
// sourced it. The giver must be registered and resolvable, otherwise nothing
// is written and false is returned.
func (s *Service) AssignRoleFrom(ctx context.Context, p Principal, role RoleRef, giver Giver, expiresAt *time.Time) (bool, error) {
	exists, err := s.givers.resolve(ctx, giver)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	return s.assignRole(ctx, p, role, expiresAt, &giver)
}

func (s *Service) assignRole(ctx context.Context, p Principal, role RoleRef, expiresAt *time.Time, giver *Giver) (bool, error) {
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return false, nil
	}

	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	held, err := s.hasValidRoleGrant(ctx, p, roleID, giver)
	if err != nil {
		return false, err
	}
	if held {
		return false, nil
	}

	grant := &RoleGrant{
		PrincipalType: p.Type,
		PrincipalID:   p.ID,
		RoleID:        roleID,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if giver != nil {
		grant.PermitableType = giver.Type
		grant.PermitableID = giver.ID
	}

	_, err = s.db.NewInsert().Model(grant).Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "AssignRole").Err()
	}

	s.flushPrincipalRoles(ctx, p)
	return true, nil
}

// hasValidRoleGrant checks for an existing unexpired grant of the role,
// matching the giver scope when one is given.
func (s *Service) hasValidRoleGrant(ctx context.Context, p Principal, roleID int64, giver *Giver) (bool, error) {
	q := s.db.NewSelect().Model((*RoleGrant)(nil)).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("role_id = ?", roleID).
		Where("expires_at IS NULL OR expires_at > ?", s.now())
	if giver != nil {
		q = q.Where("permitable_type = ? AND permitable_id = ?", giver.Type, giver.ID)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "HasValidRoleGrant").Err()
	}
	return count > 0, nil
}

// RevokeRoleAt sets (or brings forward) the expiry of a principal's grant of
// the role. A nil instant revokes immediately. Only currently-valid grants
// are touched; returns false when none match.
func (s *Service) RevokeRoleAt(ctx context.Context, p Principal, role RoleRef, at *time.Time) (bool, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	now := s.now()
	when := now
	if at != nil {
		when = *at
	}

	res, err := s.db.NewUpdate().Model((*RoleGrant)(nil)).
		Set("expires_at = ?", when).
		Set("updated_at = ?", now).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("role_id = ?", roleID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "RevokeRoleAt").Err()
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	s.flushPrincipalRoles(ctx, p)
	return true, nil
}

// ClearRoleExpiry makes a principal's grant of the role permanent, clearing
// any expiry including one already in the past. Returns false when the
// principal has no grant of the role at all.
func (s *Service) ClearRoleExpiry(ctx context.Context, p Principal, role RoleRef) (bool, error) {
	roleID, ok, err := s.resolveRoleID(ctx, role)
	if err != nil || !ok {
		return false, err
	}

	res, err := s.db.NewUpdate().Model((*RoleGrant)(nil)).
		Set("expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("role_id = ?", roleID).
		Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "ClearRoleExpiry").Err()
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	s.flushPrincipalRoles(ctx, p)
	return true, nil
}

// RevokeRoles expires a batch of the principal's grants immediately. With no
// refs and no giver it targets every role of the configured default type;
// with a giver it targets the grants that giver sourced, optionally narrowed
// by refs. Returns false when the principal holds no currently-valid grants
// or nothing matched.
func (s *Service) RevokeRoles(ctx context.Context, p Principal, roles []RoleRef, giver *Giver) (bool, error) {
	now := s.now()

	held, err := s.countValidGrants(ctx, p)
	if err != nil {
		return false, err
	}
	if held == 0 {
		return false, nil
	}

	q := s.db.NewUpdate().Model((*RoleGrant)(nil)).
		Set("expires_at = ?", now).
		Set("updated_at = ?", now).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("expires_at IS NULL OR expires_at > ?", now)

	if len(roles) > 0 {
		ids, err := s.resolveRoleIDs(ctx, roles)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			return false, nil
		}
		q = q.Where("role_id IN (?)", bun.In(ids))
	} else if giver == nil {
		q = q.Where("role_id IN (SELECT id FROM roles WHERE type = ?)", s.config.DefaultType)
	}
	if giver != nil {
		q = q.Where("permitable_type = ? AND permitable_id = ?", giver.Type, giver.ID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "RevokeRoles").Err()
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	s.flushPrincipalRoles(ctx, p)
	return true, nil
}

// DetachRoles hard-deletes the principal's grant rows for the given roles.
// With no refs and no giver it targets every role of the configured default
// type; with a giver it targets the grants that giver sourced, optionally
// narrowed by refs. The operation is idempotent and reports true even when
// nothing matched.
func (s *Service) DetachRoles(ctx context.Context, p Principal, roles []RoleRef, giver *Giver) (bool, error) {
	q := s.db.NewDelete().Model((*RoleGrant)(nil)).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID)

	if len(roles) > 0 {
		ids, err := s.resolveRoleIDs(ctx, roles)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			return true, nil
		}
		q = q.Where("role_id IN (?)", bun.In(ids))
	} else if giver == nil {
		q = q.Where("role_id IN (SELECT id FROM roles WHERE type = ?)", s.config.DefaultType)
	}
	if giver != nil {
		q = q.Where("permitable_type = ? AND permitable_id = ?", giver.Type, giver.ID)
	}

	if _, err := q.Exec(ctx); err != nil {
		return false, dbkit.WithErr1(err, "DetachRoles").Err()
	}

	s.flushPrincipalRoles(ctx, p)
	return true, nil
}

func (s *Service) countValidGrants(ctx context.Context, p Principal) (int, error) {
	count, err := s.db.NewSelect().Model((*RoleGrant)(nil)).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Count(ctx)
	return count, dbkit.WithErr1(err, "CountValidGrants").Err()
}

// ============================================================================
// DIRECT PERMISSION GRANTS
// ============================================================================

// AssignPermission grants a permission directly to a principal, optionally
// bounded in time. Returns false without writing when the permission does
// not resolve, the expiry is already past, or a currently-valid direct grant
// already exists.
func (s *Service) AssignPermission(ctx context.Context, p Principal, perm PermissionRef, expiresAt *time.Time) (bool, error) {
	return s.AssignPermissions(ctx, p, expiresAt, perm)
}

// AssignPermissions grants several permissions at once, skipping
// unresolvable refs and permissions already validly granted. Returns false
// when nothing new was written.
func (s *Service) AssignPermissions(ctx context.Context, p Principal, expiresAt *time.Time, perms ...PermissionRef) (bool, error) {
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return false, nil
	}

	permIDs, err := s.resolvePermissionIDs(ctx, perms)
	if err != nil {
		return false, err
	}
	if len(permIDs) == 0 {
		return false, nil
	}

	var heldIDs []int64
	err = s.db.NewSelect().Model((*PermissionGrant)(nil)).
		Column("permission_id").
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("permission_id IN (?)", bun.In(permIDs)).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(ctx, &heldIDs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, dbkit.WithErr1(err, "AssignPermissionsHeld").Err()
	}
	held := make(map[int64]struct{}, len(heldIDs))
	for _, id := range heldIDs {
		held[id] = struct{}{}
	}

	var grants []PermissionGrant
	for _, id := range permIDs {
		if _, ok := held[id]; ok {
			continue
		}
		grants = append(grants, PermissionGrant{
			PrincipalType: p.Type,
			PrincipalID:   p.ID,
			PermissionID:  id,
			ExpiresAt:     expiresAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(grants) == 0 {
		return false, nil
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		_, err := tx.db.NewInsert().Model(&grants).Exec(ctx)
		return dbkit.WithErr1(err, "AssignPermissions").Err()
	})
	if err != nil {
		return false, err
	}

	s.flushPrincipalPermissions(ctx, p)
	return true, nil
}

// RevokePermissionAt sets (or brings forward) the expiry of a direct grant.
// A nil instant revokes immediately. Only currently-valid grants are
// touched; returns false when none match.
func (s *Service) RevokePermissionAt(ctx context.Context, p Principal, perm PermissionRef, at *time.Time) (bool, error) {
	permID, ok, err := s.resolvePermissionID(ctx, perm)
	if err != nil || !ok {
		return false, err
	}

	now := s.now()
	when := now
	if at != nil {
		when = *at
	}

	res, err := s.db.NewUpdate().Model((*PermissionGrant)(nil)).
		Set("expires_at = ?", when).
		Set("updated_at = ?", now).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("permission_id = ?", permID).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "RevokePermissionAt").Err()
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	s.flushPrincipalPermissions(ctx, p)
	return true, nil
}

// RevokePermissions expires direct grants immediately; with no refs it
// targets every currently-valid direct grant. Returns false when nothing
// matched.
func (s *Service) RevokePermissions(ctx context.Context, p Principal, perms ...PermissionRef) (bool, error) {
	now := s.now()
	q := s.db.NewUpdate().Model((*PermissionGrant)(nil)).
		Set("expires_at = ?", now).
		Set("updated_at = ?", now).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID).
		Where("expires_at IS NULL OR expires_at > ?", now)

	if len(perms) > 0 {
		ids, err := s.resolvePermissionIDs(ctx, perms)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			return false, nil
		}
		q = q.Where("permission_id IN (?)", bun.In(ids))
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, dbkit.WithErr1(err, "RevokePermissions").Err()
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}

	s.flushPrincipalPermissions(ctx, p)
	return true, nil
}

// DetachPermissions hard-deletes the principal's direct grant rows; with no
// refs it removes them all. Idempotent: reports true even when nothing
// matched.
func (s *Service) DetachPermissions(ctx context.Context, p Principal, perms ...PermissionRef) (bool, error) {
	q := s.db.NewDelete().Model((*PermissionGrant)(nil)).
		Where("principal_type = ? AND principal_id = ?", p.Type, p.ID)

	if len(perms) > 0 {
		ids, err := s.resolvePermissionIDs(ctx, perms)
		if err != nil {
			return false, err
		}
		if len(ids) == 0 {
			return true, nil
		}
		q = q.Where("permission_id IN (?)", bun.In(ids))
	}

	if _, err := q.Exec(ctx); err != nil {
		return false, dbkit.WithErr1(err, "DetachPermissions").Err()
	}

	s.flushPrincipalPermissions(ctx, p)
	return true, nil
}
