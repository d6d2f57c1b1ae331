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
// ROLE LIFECYCLE
// ============================================================================

// RoleInput describes a role to create. Name is required; Type defaults to
// the configured default. Setting Parent makes the new role a child: its
// slug is derived from the parent's name and the parent is flipped unusable.
// Setting Permitable scopes ownership of the role to that giver.
type RoleInput struct {
	Name        string
	Type        string
	Description string
	Parent      RoleRef
	Permitable  *Giver
}

// CreateRole creates a role. With a parent set, the child's slug is prefixed
// with the parent's name and the parent stops being directly grantable; both
// writes happen in one transaction. Returns ErrDuplicateSlug when the derived
// slug is taken and ErrRoleNotFound when the parent does not resolve.
func (s *Service) CreateRole(ctx context.Context, input RoleInput) (*Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, NewError(ErrRoleNotFound, "role name is required")
	}

	roleType := input.Type
	if roleType == "" {
		roleType = s.config.DefaultType
	}

	var parent *Role
	if !input.Parent.IsZero() {
		found, err := s.FindRole(ctx, input.Parent)
		if err != nil {
			return nil, err
		}
		parent = found
	}

	now := s.now()
	role := &Role{
		Name:        name,
		Type:        roleType,
		Description: input.Description,
		Usable:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if parent != nil {
		role.Slug = roleSlug(name, parent.Name)
		role.ParentID = parent.ID
	} else {
		role.Slug = Slugify(name)
	}
	if input.Permitable != nil {
		role.PermitableType = input.Permitable.Type
		role.PermitableID = input.Permitable.ID
	}

	err := s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		_, err := tx.db.NewInsert().Model(role).Exec(ctx)
		if err != nil {
			return dbkit.WithErr1(err, "CreateRole").Err()
		}
		if parent != nil && parent.Usable {
			_, err = tx.db.NewUpdate().Model((*Role)(nil)).
				Set("usable = FALSE").
				Set("updated_at = ?", now).
				Where("id = ?", parent.ID).
				Exec(ctx)
			if err != nil {
				return dbkit.WithErr1(err, "CreateRoleParent").Err()
			}
		}
		return nil
	})
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return nil, NewError(ErrDuplicateSlug, fmt.Sprintf("slug %q is already taken", role.Slug)).WithRole(role.Slug)
		}
		return nil, err
	}

	s.flushPermissionMap(ctx)
	if parent != nil && parent.Usable {
		// The parent just stopped being grantable; holders must not keep
		// resolving it from cache.
		s.flushPrincipalsWithRoles(ctx, parent.ID)
	}
	if input.Permitable != nil {
		s.flushGiver(ctx, *input.Permitable)
	}
	return role, nil
}

// NewGiverRole creates a giver-owned copy of a template role, carrying the
// template's permissions. The copy's slug is suffixed with the owner token so
// each giver gets its own grantable role.
func (s *Service) NewGiverRole(ctx context.Context, template RoleRef, giver Giver) (*Role, error) {
	source, err := s.FindRole(ctx, template)
	if err != nil {
		return nil, err
	}

	now := s.now()
	role := &Role{
		Name:           source.Name,
		Slug:           Slugify(source.Slug + " " + giver.Type + " " + giver.ID),
		Type:           source.Type,
		Description:    source.Description,
		Usable:         true,
		PermitableType: giver.Type,
		PermitableID:   giver.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		_, err := tx.db.NewInsert().Model(role).Exec(ctx)
		if err != nil {
			return dbkit.WithErr1(err, "NewGiverRole").Err()
		}

		var permissionIDs []int64
		err = tx.db.NewSelect().Model((*RolePermission)(nil)).
			Column("permission_id").
			Where("role_id = ?", source.ID).
			Scan(ctx, &permissionIDs)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return dbkit.WithErr1(err, "NewGiverRolePermissions").Err()
		}
		if len(permissionIDs) == 0 {
			return nil
		}

		links := make([]RolePermission, 0, len(permissionIDs))
		for _, id := range permissionIDs {
			links = append(links, RolePermission{RoleID: role.ID, PermissionID: id, CreatedAt: now})
		}
		_, err = tx.db.NewInsert().Model(&links).Exec(ctx)
		return dbkit.WithErr1(err, "NewGiverRoleLinks").Err()
	})
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return nil, NewError(ErrDuplicateSlug, fmt.Sprintf("slug %q is already taken", role.Slug)).WithRole(role.Slug).WithGiver(giver)
		}
		return nil, err
	}

	s.flushPermissionMap(ctx)
	s.flushGiver(ctx, giver)
	return role, nil
}

// FindRole resolves a role ref to its live row. Returns ErrRoleNotFound when
// it does not resolve.
func (s *Service) FindRole(ctx context.Context, ref RoleRef) (*Role, error) {
	if ref.model != nil {
		return ref.model, nil
	}

	role := new(Role)
	q := s.db.NewSelect().Model(role)
	switch {
	case ref.id != 0:
		q = q.Where("id = ?", ref.id)
	case ref.slug != "":
		q = q.Where("slug = ?", ref.slug)
	default:
		return nil, NewError(ErrRoleNotFound, "empty role reference")
	}

	err := dbkit.WithErr1(q.Scan(ctx), "FindRole").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return nil, NewError(ErrRoleNotFound, "role does not exist").WithRole(ref.slug)
		}
		return nil, err
	}
	return role, nil
}

// FindRoles lists roles matching the filter.
func (s *Service) FindRoles(ctx context.Context, filter *RoleFilter) ([]Role, error) {
	var roles []Role
	q := s.db.NewSelect().Model(&roles)
	if filter != nil {
		q = filter.apply(q)
	}
	err := dbkit.WithErr1(q.Order("slug ASC").Scan(ctx), "FindRoles").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return roles, nil
}

// Children returns the direct children of a role.
func (s *Service) Children(ctx context.Context, ref RoleRef) ([]Role, error) {
	id, ok, err := s.resolveRoleID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(ErrRoleNotFound, "role does not exist").WithRole(ref.slug)
	}
	var children []Role
	err = dbkit.WithErr1(s.db.NewSelect().Model(&children).
		Where("parent_id = ?", id).
		Order("slug ASC").
		Scan(ctx), "Children").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return children, nil
}

// Ancestors walks parent links from the role up to its root, nearest first.
func (s *Service) Ancestors(ctx context.Context, ref RoleRef) ([]Role, error) {
	role, err := s.FindRole(ctx, ref)
	if err != nil {
		return nil, err
	}
	var ancestors []Role
	for role.ParentID != 0 {
		parent, err := s.FindRole(ctx, RoleByID(role.ParentID))
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				// Orphaned link after a parent force-delete; the chain ends
				// here.
				break
			}
			return nil, err
		}
		ancestors = append(ancestors, *parent)
		role = parent
	}
	return ancestors, nil
}

// IsRoot reports whether the role has no parent.
func (s *Service) IsRoot(ctx context.Context, ref RoleRef) (bool, error) {
	role, err := s.FindRole(ctx, ref)
	if err != nil {
		return false, err
	}
	return role.ParentID == 0, nil
}

// DeleteRole soft-deletes a role. Grants pointing at it stop resolving while
// the row survives for restore. Returns false when the role does not resolve.
func (s *Service) DeleteRole(ctx context.Context, ref RoleRef) (bool, error) {
	id, ok, err := s.resolveRoleID(ctx, ref)
	if err != nil || !ok {
		return false, err
	}

	res, err := s.db.NewDelete().Model((*Role)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err = dbkit.WithErr(res, err, "DeleteRole").Err(); err != nil {
		return false, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, id)
	return true, nil
}

// RestoreRole clears a role's soft-delete marker. Returns false when no
// soft-deleted row matches.
func (s *Service) RestoreRole(ctx context.Context, ref RoleRef) (bool, error) {
	var id int64
	var q *bun.SelectQuery
	switch {
	case ref.model != nil:
		id = ref.model.ID
	case ref.id != 0:
		id = ref.id
	case ref.slug != "":
		q = s.db.NewSelect().Model((*Role)(nil)).
			Column("id").
			Where("slug = ?", ref.slug).
			WhereAllWithDeleted()
	default:
		return false, nil
	}
	if q != nil {
		if err := q.Scan(ctx, &id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, dbkit.WithErr1(err, "RestoreRole").Err()
		}
	}

	res, err := s.db.NewUpdate().Model((*Role)(nil)).
		Set("deleted_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		WhereAllWithDeleted().
		Where("deleted_at IS NOT NULL").
		Exec(ctx)
	if err = dbkit.WithErr(res, err, "RestoreRole").Err(); err != nil {
		return false, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return false, nil
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, id)
	return true, nil
}

// ForceDeleteRole permanently removes a role: its permission links and
// grants go with it, and any children are orphaned into roots rather than
// deleted. Returns false when the role does not resolve.
func (s *Service) ForceDeleteRole(ctx context.Context, ref RoleRef) (bool, error) {
	var role Role
	q := s.db.NewSelect().Model(&role).WhereAllWithDeleted()
	switch {
	case ref.model != nil:
		q = q.Where("id = ?", ref.model.ID)
	case ref.id != 0:
		q = q.Where("id = ?", ref.id)
	case ref.slug != "":
		q = q.Where("slug = ?", ref.slug)
	default:
		return false, nil
	}
	err := dbkit.WithErr1(q.Scan(ctx), "ForceDeleteRole").Err()
	if err != nil {
		if dbkit.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	err = s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		if _, err := tx.db.NewUpdate().Model((*Role)(nil)).
			Set("parent_id = NULL").
			Set("updated_at = ?", s.now()).
			Where("parent_id = ?", role.ID).
			WhereAllWithDeleted().
			Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "ForceDeleteRoleChildren").Err()
		}
		if _, err := tx.db.NewDelete().Model((*RolePermission)(nil)).
			Where("role_id = ?", role.ID).
			Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "ForceDeleteRoleLinks").Err()
		}
		if _, err := tx.db.NewDelete().Model((*RoleGrant)(nil)).
			Where("role_id = ?", role.ID).
			Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "ForceDeleteRoleGrants").Err()
		}
		_, err := tx.db.NewDelete().Model((*Role)(nil)).
			Where("id = ?", role.ID).
			WhereAllWithDeleted().
			ForceDelete().
			Exec(ctx)
		return dbkit.WithErr1(err, "ForceDeleteRole").Err()
	})
	if err != nil {
		return false, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, role.ID)
	if role.PermitableType != "" {
		s.flushGiver(ctx, Giver{Type: role.PermitableType, ID: role.PermitableID})
	}
	return true, nil
}

// UpdateRole changes a role's name, description or usable flag. The slug is
// never rewritten; grants and links stay stable. Returns the updated row.
func (s *Service) UpdateRole(ctx context.Context, ref RoleRef, update RoleUpdate) (*Role, error) {
	role, err := s.FindRole(ctx, ref)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		role.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		role.Description = *update.Description
	}
	if update.Usable != nil {
		role.Usable = *update.Usable
	}
	role.UpdatedAt = s.now()

	res, err := s.db.NewUpdate().Model(role).
		Column("name", "description", "usable", "updated_at").
		WherePK().
		Exec(ctx)
	if err = dbkit.WithErr(res, err, "UpdateRole").Err(); err != nil {
		return nil, err
	}

	s.flushPermissionMap(ctx)
	s.flushPrincipalsWithRoles(ctx, role.ID)
	return role, nil
}

// RoleUpdate carries the mutable role fields; nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Description *string
	Usable      *bool
}

// ============================================================================
// LAST-ADMIN GUARD
// ============================================================================

// defaultCriticalPermissions are the capabilities whose loss would lock an
// installation out of administering itself.
var defaultCriticalPermissions = []string{"browse-admin", "assign-roles", "delete-admins"}

// IsLastAdmin reports whether the role is the final holder of any critical
// permission with exactly one principal granted it. Callers use it as a guard
// before destructive role changes; it is advisory, nothing here enforces it.
func (s *Service) IsLastAdmin(ctx context.Context, ref RoleRef, criticalPerms ...string) (bool, error) {
	if len(criticalPerms) == 0 {
		criticalPerms = defaultCriticalPermissions
	}

	role, err := s.FindRole(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return false, nil
		}
		return false, err
	}

	idx, err := s.PermissionIndex(ctx)
	if err != nil {
		return false, err
	}

	carriesCritical := false
	for _, token := range criticalPerms {
		entry := idx.Find(token)
		if entry == nil {
			continue
		}
		holders := 0
		sole := false
		for _, slug := range entry.RoleSlugs {
			holders++
			if slug == role.Slug {
				sole = true
			}
		}
		if sole && holders == 1 {
			carriesCritical = true
			break
		}
	}
	if !carriesCritical {
		return false, nil
	}

	count, err := s.countValidHolders(ctx, role.ID)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}

func (s *Service) countValidHolders(ctx context.Context, roleID int64) (int, error) {
	count, err := s.db.NewSelect().Model((*RoleGrant)(nil)).
		Where("role_id = ?", roleID).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Count(ctx)
	return count, dbkit.WithErr1(err, "CountValidHolders").Err()
}
