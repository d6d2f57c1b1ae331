package grantkit

import (
	"context"
	"strings"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// RoleRef identifies a role by exactly one of: numeric id, slug, or a loaded
// model. Mutation operations accept refs so callers can pass whatever they
// hold; unresolvable refs are dropped, not errored, so callers check the
// boolean result to detect partial resolution.
type RoleRef struct {
	id    int64
	slug  string
	model *Role
}

// RoleByID references a role by its id.
func RoleByID(id int64) RoleRef {
	return RoleRef{id: id}
}

// RoleBySlug references a role by its slug.
func RoleBySlug(slug string) RoleRef {
	return RoleRef{slug: slug}
}

// RoleModel references an already-loaded role.
func RoleModel(role *Role) RoleRef {
	return RoleRef{model: role}
}

// IsZero reports whether the ref carries no identifier at all.
func (r RoleRef) IsZero() bool {
	return r.id == 0 && r.slug == "" && r.model == nil
}

// PermissionRef identifies a permission by exactly one of: numeric id, slug,
// name, or a loaded model. Same silent-drop semantics as RoleRef.
type PermissionRef struct {
	id    int64
	slug  string
	name  string
	model *Permission
}

// PermissionByID references a permission by its id.
func PermissionByID(id int64) PermissionRef {
	return PermissionRef{id: id}
}

// PermissionBySlug references a permission by its slug.
func PermissionBySlug(slug string) PermissionRef {
	return PermissionRef{slug: slug}
}

// PermissionByName references a permission by its name. Names are stored
// lower-case, so the ref is lowered here too.
func PermissionByName(name string) PermissionRef {
	return PermissionRef{name: strings.ToLower(name)}
}

// PermissionModel references an already-loaded permission.
func PermissionModel(perm *Permission) PermissionRef {
	return PermissionRef{model: perm}
}

// IsZero reports whether the ref carries no identifier at all.
func (r PermissionRef) IsZero() bool {
	return r.id == 0 && r.slug == "" && r.name == "" && r.model == nil
}

// identifier returns the name-or-slug token the resolution index accepts,
// or "" for id-only refs (those resolve through the index by id).
func (r PermissionRef) identifier() string {
	switch {
	case r.model != nil:
		return r.model.Slug
	case r.slug != "":
		return r.slug
	case r.name != "":
		return r.name
	}
	return ""
}

// ============================================================================
// CANONICAL RESOLUTION
// ============================================================================

// resolveRoleIDs resolves a mixed set of role refs to a canonical id set.
// Models yield their id directly; ids and slugs are matched against live
// (non-deleted) roles in one query. Unresolvable entries are dropped.
func (s *Service) resolveRoleIDs(ctx context.Context, refs []RoleRef) ([]int64, error) {
	var ids, wantIDs []int64
	var wantSlugs []string
	seen := make(map[int64]struct{})

	for _, ref := range refs {
		switch {
		case ref.model != nil && ref.model.ID != 0:
			if _, dup := seen[ref.model.ID]; !dup {
				seen[ref.model.ID] = struct{}{}
				ids = append(ids, ref.model.ID)
			}
		case ref.id != 0:
			wantIDs = append(wantIDs, ref.id)
		case ref.slug != "":
			wantSlugs = append(wantSlugs, ref.slug)
		}
	}

	if len(wantIDs) == 0 && len(wantSlugs) == 0 {
		return ids, nil
	}

	var roles []Role
	q := s.db.NewSelect().Model(&roles).Column("id")
	switch {
	case len(wantIDs) > 0 && len(wantSlugs) > 0:
		q = q.Where("id IN (?) OR slug IN (?)", bun.In(wantIDs), bun.In(wantSlugs))
	case len(wantIDs) > 0:
		q = q.Where("id IN (?)", bun.In(wantIDs))
	default:
		q = q.Where("slug IN (?)", bun.In(wantSlugs))
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ResolveRoleIDs").Err(); err != nil {
		return nil, err
	}
	for _, role := range roles {
		if _, dup := seen[role.ID]; !dup {
			seen[role.ID] = struct{}{}
			ids = append(ids, role.ID)
		}
	}
	return ids, nil
}

// resolveRoleID resolves a single role ref, returning false when it does not
// resolve to exactly one live role.
func (s *Service) resolveRoleID(ctx context.Context, ref RoleRef) (int64, bool, error) {
	if ref.model != nil && ref.model.ID != 0 {
		return ref.model.ID, true, nil
	}
	ids, err := s.resolveRoleIDs(ctx, []RoleRef{ref})
	if err != nil {
		return 0, false, err
	}
	if len(ids) != 1 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// resolvePermissionIDs resolves a mixed set of permission refs to a
// canonical id set. Ids, slugs and names are matched against live
// permissions in one query; unresolvable entries are dropped.
func (s *Service) resolvePermissionIDs(ctx context.Context, refs []PermissionRef) ([]int64, error) {
	var ids, wantIDs []int64
	var tokens []string
	seen := make(map[int64]struct{})

	for _, ref := range refs {
		switch {
		case ref.model != nil && ref.model.ID != 0:
			if _, dup := seen[ref.model.ID]; !dup {
				seen[ref.model.ID] = struct{}{}
				ids = append(ids, ref.model.ID)
			}
		case ref.id != 0:
			wantIDs = append(wantIDs, ref.id)
		case ref.slug != "":
			tokens = append(tokens, ref.slug)
		case ref.name != "":
			tokens = append(tokens, ref.name)
		}
	}

	if len(wantIDs) == 0 && len(tokens) == 0 {
		return ids, nil
	}

	var perms []Permission
	q := s.db.NewSelect().Model(&perms).Column("id")
	switch {
	case len(wantIDs) > 0 && len(tokens) > 0:
		q = q.Where("id IN (?) OR slug IN (?) OR name IN (?)", bun.In(wantIDs), bun.In(tokens), bun.In(tokens))
	case len(wantIDs) > 0:
		q = q.Where("id IN (?)", bun.In(wantIDs))
	default:
		q = q.Where("slug IN (?) OR name IN (?)", bun.In(tokens), bun.In(tokens))
	}
	if err := dbkit.WithErr1(q.Scan(ctx), "ResolvePermissionIDs").Err(); err != nil {
		return nil, err
	}
	for _, perm := range perms {
		if _, dup := seen[perm.ID]; !dup {
			seen[perm.ID] = struct{}{}
			ids = append(ids, perm.ID)
		}
	}
	return ids, nil
}

// resolvePermissionID resolves a single permission ref, returning false when
// it does not resolve to exactly one live permission.
func (s *Service) resolvePermissionID(ctx context.Context, ref PermissionRef) (int64, bool, error) {
	if ref.model != nil && ref.model.ID != 0 {
		return ref.model.ID, true, nil
	}
	ids, err := s.resolvePermissionIDs(ctx, []PermissionRef{ref})
	if err != nil {
		return 0, false, err
	}
	if len(ids) != 1 {
		return 0, false, nil
	}
	return ids[0], true, nil
}
