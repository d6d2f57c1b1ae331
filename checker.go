package grantkit

import (
	"context"
	"time"
)

// GrantHolder is the capability surface a host application programs against
// when it only needs checks and grants for one principal at a time. *Service
// satisfies it.
type GrantHolder interface {
	HasRole(ctx context.Context, p Principal, slugs ...string) (bool, error)
	HasPermission(ctx context.Context, p Principal, perm PermissionRef) (bool, error)
	HasPermissionTo(ctx context.Context, p Principal, perm PermissionRef, giver *Giver) (bool, error)
	AssignRole(ctx context.Context, p Principal, role RoleRef, expiresAt *time.Time) (bool, error)
	AssignPermission(ctx context.Context, p Principal, perm PermissionRef, expiresAt *time.Time) (bool, error)
	ValidRoles(ctx context.Context, p Principal) (*RoleSet, error)
	ValidPermissions(ctx context.Context, p Principal) (*PermissionSet, error)
}

var _ GrantHolder = (*Service)(nil)

// Checker answers role and permission questions for one principal from
// snapshots loaded up front. It never touches the store, so request handlers
// can call it any number of times at zero query cost. Validity is still
// evaluated against the clock on every call.
type Checker struct {
	principal   Principal
	roles       *RoleSet
	permissions *PermissionSet
	index       *PermissionIndex
	now         func() time.Time
}

// NewChecker creates a Checker over pre-loaded snapshots.
func NewChecker(p Principal, roles *RoleSet, permissions *PermissionSet, index *PermissionIndex) *Checker {
	return &Checker{
		principal:   p,
		roles:       roles,
		permissions: permissions,
		index:       index,
		now:         time.Now,
	}
}

// GetChecker loads the principal's snapshots and the permission index and
// binds them into a Checker. Typical use is once per request, before the
// handler runs.
func (s *Service) GetChecker(ctx context.Context, p Principal) (*Checker, error) {
	roles, err := s.ValidRoles(ctx, p)
	if err != nil {
		return nil, err
	}
	permissions, err := s.ValidPermissions(ctx, p)
	if err != nil {
		return nil, err
	}
	index, err := s.PermissionIndex(ctx)
	if err != nil {
		return nil, err
	}
	c := NewChecker(p, roles, permissions, index)
	c.now = s.now
	return c, nil
}

// Principal returns the principal this checker is for.
func (c *Checker) Principal() Principal {
	return c.principal
}

// HasRole checks whether the principal currently holds any of the roles.
//
// Example:
//
//	if checker.HasRole("admin-root") {
//	    // full administrative access
//	}
func (c *Checker) HasRole(slugs ...string) bool {
	return c.roles.HasAnySlug(c.now(), slugs...)
}

// HasAllRoles checks whether the principal currently holds every given role.
func (c *Checker) HasAllRoles(slugs ...string) bool {
	now := c.now()
	for _, slug := range slugs {
		if !c.roles.HasAnySlug(now, slug) {
			return false
		}
	}
	return true
}

// Can checks whether the principal holds the permission, through a role or
// directly. The identifier is a permission name or slug.
//
// Example:
//
//	if checker.Can("delete users") {
//	    // destructive path allowed
//	}
func (c *Checker) Can(identifier string) bool {
	now := c.now()
	if entry := c.index.Find(identifier); entry != nil {
		if c.roles.HasAnySlug(now, entry.RoleSlugs...) {
			return true
		}
	}
	return c.permissions.Has(now, identifier)
}

// CanAny checks whether the principal holds at least one of the permissions.
func (c *Checker) CanAny(identifiers ...string) bool {
	for _, id := range identifiers {
		if c.Can(id) {
			return true
		}
	}
	return false
}

// CanAll checks whether the principal holds every one of the permissions.
func (c *Checker) CanAll(identifiers ...string) bool {
	for _, id := range identifiers {
		if !c.Can(id) {
			return false
		}
	}
	return true
}

// CanFor checks the permission restricted to grants scoped to the giver
// (unscoped grants still count). It works purely on the loaded snapshots:
// the giver's own role inventory is not consulted, so prefer
// Service.HasPermissionTo when that distinction matters.
func (c *Checker) CanFor(identifier string, giver Giver) bool {
	entry := c.index.Find(identifier)
	if entry == nil {
		return c.permissions.Has(c.now(), identifier)
	}

	carrying := make(map[string]struct{}, len(entry.RoleSlugs))
	for _, slug := range entry.RoleSlugs {
		carrying[slug] = struct{}{}
	}

	now := c.now()
	for _, grant := range c.roles.Roles {
		if !grant.ValidAt(now) {
			continue
		}
		if _, ok := carrying[grant.Slug]; !ok {
			continue
		}
		if grant.ScopedTo(giver) {
			return true
		}
	}
	return c.permissions.Has(now, identifier)
}

// RoleSlugs returns the slugs of the principal's currently-valid roles.
func (c *Checker) RoleSlugs() []string {
	return c.roles.SlugsAt(c.now())
}

// PermissionSlugs returns the union of permission slugs the principal holds
// right now, through roles and directly.
func (c *Checker) PermissionSlugs() []string {
	now := c.now()
	set := make(map[string]struct{})

	held := make(map[string]struct{})
	for _, slug := range c.roles.SlugsAt(now) {
		held[slug] = struct{}{}
	}
	for _, entry := range c.index.Entries {
		for _, roleSlug := range entry.RoleSlugs {
			if _, ok := held[roleSlug]; ok {
				set[entry.Slug] = struct{}{}
				break
			}
		}
	}
	for _, g := range c.permissions.Permissions {
		if g.ValidAt(now) {
			set[g.Slug] = struct{}{}
		}
	}

	result := make([]string, 0, len(set))
	for slug := range set {
		result = append(result, slug)
	}
	return result
}

// IsEmpty reports whether the principal holds no valid roles and no valid
// direct permissions.
func (c *Checker) IsEmpty() bool {
	now := c.now()
	if len(c.roles.ValidAt(now)) > 0 {
		return false
	}
	for _, g := range c.permissions.Permissions {
		if g.ValidAt(now) {
			return false
		}
	}
	return true
}
