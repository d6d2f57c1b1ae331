package grantkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// ============================================================================
// PERMISSION LIFECYCLE
// ============================================================================

// PermissionInput describes a permission to create. Name is required and
// stored lower-case; Type defaults to the configured default.
type PermissionInput struct {
	Name        string
	Type        string
	Description string
}

// CreatePermission creates a permission. Names are lower-cased on the way in
// so checks by name stay case-insensitive. Returns ErrDuplicateSlug when the
// derived slug is taken.
func (s *Service) CreatePermission(ctx context.Context, input PermissionInput) (*Permission, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return nil, NewError(ErrPermissionNotFound, "permission name is required")
	}

	permType := input.Type
	if permType == "" {
		permType = s.config.DefaultType
	}

	now := s.now()
	perm := &Permission{
		Name:        name,
		Slug:        Slugify(name),
		Type:        permType,
		Description: input.Description,
		Usable:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.NewInsert().Model(perm).Exec(ctx)
	if err != nil {
		err = dbkit.WithErr1(err, "CreatePermission").Err()
		if dbkit.IsDuplicate(err) {
			return nil, NewError(ErrDuplicateSlug, fmt.Sprintf("slug %q is already taken", perm.Slug)).WithPermission(perm.Slug)
		}
		return nil, err
	}

	s.flushPermissionMap(ctx)
	return perm, nil
}

// CreatePermissions bulk-creates permissions by name, skipping names whose
// slug already exists. Used to bootstrap an installation's capability list.
// Returns the permissions it actually created.
func (s *Service) CreatePermissions(ctx context.Context, permType string, names ...string) ([]Permission, error) {
	if permType == "" {
		permType = s.config.DefaultType
	}

	now := s.now()
	var candidates []Permission
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		slug := Slugify(name)
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		candidates = append(candidates, Permission{
			Name:      name,
			Slug:      slug,
			Type:      permType,
			Usable:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	slugs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		slugs = append(slugs, c.Slug)
	}
	existing, err := s.existingPermissionSlugs(ctx, slugs)
	if err != nil {
		return nil, err
	}

	fresh := candidates[:0]
	for _, c := range candidates {
		if _, taken := existing[c.Slug]; !taken {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		models := make([]*Permission, len(fresh))
		for i := range fresh {
			models[i] = &fresh[i]
		}
		_, err := dbkit.BatchInsert(ctx, tx.db, models, dbkit.BatchSize)
		return err
	})
	if err != nil {
		return nil, dbkit.WithErr1(err, "CreatePermissions").Err()
	}

	s.flushPermissionMap(ctx)
	return fresh, nil
}

func (s *Service) existingPermissionSlugs(ctx context.Context, slugs []string) (map[string]struct{}, error) {
	var rows []string
	err := s.db.NewSelect().Model((*Permission)(nil)).
		Column("slug").
		Where("slug IN (?)", bun.In(slugs)).
		WhereAllWithDeleted().
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbkit.WithErr1(err, "ExistingPermissionSlugs").Err()
	}
	existing := make(map[string]struct{}, len(rows))
	for _, slug := range rows {
		existing[slug] = struct{}{}
	}
	return existing, nil
}

// FindPermission resolves a permission ref to its live row. Returns
// ErrPermissionNotFound when it does not resolve.
func (s *Service) FindPermission(ctx context.Context, ref PermissionRef) (*Permission, error) {
	if ref.model != nil {
		return ref.model, nil
	}

	perm := new(Permission)
	q := s.db.NewSelect().Model(perm)
	switch {
	case ref.id != 0:
		q = q.Where("id = ?", ref.id)
	case ref.slug != "":
		q = q.Where("slug = ?", ref.slug)
	case ref.name != "":
		q = q.Where("name = ?", ref.name)
	default:
		return nil, NewError(ErrPermissionNotFound, "empty permission reference")
	}

	err := dbkit.WithErr1(q.Scan(ctx), "FindPermission").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrPermissionNotFound, "permission does not exist").WithPermission(ref.identifier())
		}
		return nil, err
	}
	return perm, nil
}

// FindPermissions lists permissions matching the filter.
func (s *Service) FindPermissions(ctx context.Context, filter *PermissionFilter) ([]Permission, error) {
	var perms []Permission
	q := s.db.NewSelect().Model(&perms)
	if filter != nil {
		q = filter.apply(q)
	}
	err := dbkit.WithErr1(q.Order("slug ASC").Scan(ctx), "FindPermissions").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return perms, nil
}

// DeletePermission soft-deletes a permission. It vanishes from the index and
// from every snapshot rebuild while the row survives for restore. Returns
// false when the permission does not resolve.
func (s *Service) DeletePermission(ctx context.Context, ref PermissionRef) (bool, error) {
	id, ok, err := s.resolvePermissionID(ctx, ref)
	if err != nil || !ok {
		return false, err
	}

	res, err := s.db.NewDelete().Model((*Permission)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err = dbkit.WithErr(res, err, "DeletePermission").Err(); err != nil {
		return false, err
	}

	s.flushAfterPermissionChange(ctx, id)
	return true, nil
}

// ForceDeletePermission permanently removes a permission together with its
// role links and direct grants. Returns false when no row matches, deleted
// or not.
func (s *Service) ForceDeletePermission(ctx context.Context, ref PermissionRef) (bool, error) {
	var perm Permission
	q := s.db.NewSelect().Model(&perm).WhereAllWithDeleted()
	switch {
	case ref.model != nil:
		q = q.Where("id = ?", ref.model.ID)
	case ref.id != 0:
		q = q.Where("id = ?", ref.id)
	case ref.slug != "":
		q = q.Where("slug = ?", ref.slug)
	case ref.name != "":
		q = q.Where("name = ?", ref.name)
	default:
		return false, nil
	}
	err := dbkit.WithErr1(q.Scan(ctx), "ForceDeletePermission").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	// Collect roles carrying the permission before the links go, so their
	// holders can be flushed after commit.
	roleIDs, err := s.roleIDsWithPermission(ctx, perm.ID)
	if err != nil {
		return false, err
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		if _, err := tx.db.NewDelete().Model((*RolePermission)(nil)).
			Where("permission_id = ?", perm.ID).
			Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "ForceDeletePermissionLinks").Err()
		}
		if _, err := tx.db.NewDelete().Model((*PermissionGrant)(nil)).
			Where("permission_id = ?", perm.ID).
			Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "ForceDeletePermissionGrants").Err()
		}
		_, err := tx.db.NewDelete().Model((*Permission)(nil)).
			Where("id = ?", perm.ID).
			WhereAllWithDeleted().
			ForceDelete().
			Exec(ctx)
		return dbkit.WithErr1(err, "ForceDeletePermission").Err()
	})
	if err != nil {
		return false, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, roleIDs...)
	s.flushPrincipalsWithPermission(ctx, perm.ID)
	return true, nil
}

// UpdatePermission changes a permission's description or usable flag. Name
// and slug are immutable; checks by either must stay stable.
func (s *Service) UpdatePermission(ctx context.Context, ref PermissionRef, update PermissionUpdate) (*Permission, error) {
	perm, err := s.FindPermission(ctx, ref)
	if err != nil {
		return nil, err
	}

	if update.Description != nil {
		perm.Description = *update.Description
	}
	if update.Usable != nil {
		perm.Usable = *update.Usable
	}
	perm.UpdatedAt = s.now()

	res, err := s.db.NewUpdate().Model(perm).
		Column("description", "usable", "updated_at").
		WherePK().
		Exec(ctx)
	if err = dbkit.WithErr(res, err, "UpdatePermission").Err(); err != nil {
		return nil, err
	}

	s.flushAfterPermissionChange(ctx, perm.ID)
	return perm, nil
}

// PermissionUpdate carries the mutable permission fields; nil fields are left
// untouched.
type PermissionUpdate struct {
	Description *string
	Usable      *bool
}

// roleIDsWithPermission returns the ids of roles linked to the permission.
func (s *Service) roleIDsWithPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	var roleIDs []int64
	err := s.db.NewSelect().Model((*RolePermission)(nil)).
		Column("role_id").
		Where("permission_id = ?", permissionID).
		Scan(ctx, &roleIDs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, dbkit.WithErr1(err, "RoleIDsWithPermission").Err()
	}
	return roleIDs, nil
}

// flushAfterPermissionChange forgets everything a permission change can make
// stale: the global index, holders of roles carrying it, and principals
// granted it directly.
func (s *Service) flushAfterPermissionChange(ctx context.Context, permissionID int64) {
	s.flushPermissionMap(ctx)
	if roleIDs, err := s.roleIDsWithPermission(ctx, permissionID); err == nil {
		s.flushPrincipalsWithRoles(ctx, roleIDs...)
	}
	s.flushPrincipalsWithPermission(ctx, permissionID)
}
