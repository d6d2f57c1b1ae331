package grantkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerExistingGiver registers a lookup that accepts the given ids.
func registerExistingGiver(service *Service, tag string, ids ...string) {
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	service.Givers().Register(tag, func(ctx context.Context, id string) (bool, error) {
		_, ok := known[id]
		return ok, nil
	})
}

// TestGiverScopedChecksIntegration tests the full giver-restricted
// resolution path
func TestGiverScopedChecksIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	registerExistingGiver(service, "team", "42")
	team := Giver{Type: "team", ID: "42"}

	// A role owned by the team, carrying one permission
	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Team Editor"), Type: "team", Permitable: &team})
	require.NoError(t, err)
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("edit docs")})
	require.NoError(t, err)
	ok, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	p := NewPrincipal("user", uniq("member"))

	t.Run("grant sourced from the giver passes", func(t *testing.T) {
		ok, err := service.AssignRoleFrom(ctx, p, RoleModel(role), team, nil)
		require.NoError(t, err)
		require.True(t, ok)

		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &team)
		require.NoError(t, err)
		assert.True(t, can)
	})

	t.Run("another giver of the same type fails", func(t *testing.T) {
		registerExistingGiver(service, "crew", "7")
		other := Giver{Type: "crew", ID: "7"}
		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &other)
		require.NoError(t, err)
		assert.False(t, can)
	})

	t.Run("unregistered giver type fails closed", func(t *testing.T) {
		ghost := Giver{Type: "ghost", ID: "1"}
		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &ghost)
		require.NoError(t, err)
		assert.False(t, can)

		err = service.VerifyGiver(ctx, ghost)
		assert.ErrorIs(t, err, ErrGiverNotRegistered)
	})

	t.Run("missing giver entity fails closed", func(t *testing.T) {
		missing := Giver{Type: "team", ID: "404"}
		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &missing)
		require.NoError(t, err)
		assert.False(t, can)

		err = service.VerifyGiver(ctx, missing)
		assert.ErrorIs(t, err, ErrGiverNotFound)
	})

	t.Run("nil giver falls back to the plain check", func(t *testing.T) {
		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), nil)
		require.NoError(t, err)
		assert.True(t, can)
	})

	t.Run("direct grant passes regardless of giver", func(t *testing.T) {
		direct, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("peek docs")})
		require.NoError(t, err)
		ok, err := service.AssignPermission(ctx, p, PermissionModel(direct), nil)
		require.NoError(t, err)
		require.True(t, ok)

		can, err := service.HasPermissionTo(ctx, p, PermissionModel(direct), &team)
		require.NoError(t, err)
		assert.True(t, can)
	})
}

// TestSharedRolesIntegration tests the shared-roles policy
func TestSharedRolesIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	registerExistingGiver(service, "org", "1")
	org := Giver{Type: "org", ID: "1"}

	// An ownerless role of the giver's type
	shared, err := service.CreateRole(ctx, RoleInput{Name: uniq("Org Auditor"), Type: "org"})
	require.NoError(t, err)
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("audit books")})
	require.NoError(t, err)
	ok, err := service.AddPermissions(ctx, RoleModel(shared), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	p := NewPrincipal("user", uniq("auditor"))
	ok, err = service.AssignRole(ctx, p, RoleModel(shared), nil)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("shared roles off: the giver owns nothing", func(t *testing.T) {
		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &org)
		require.NoError(t, err)
		assert.False(t, can)
	})

	t.Run("shared roles on: type-matching ownerless roles count", func(t *testing.T) {
		service.config.AllowSharedRoles = true
		defer func() { service.config.AllowSharedRoles = false }()

		can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &org)
		require.NoError(t, err)
		assert.True(t, can)

		set, err := service.GiverRoles(ctx, org)
		require.NoError(t, err)
		found := false
		for _, r := range set.Roles {
			if r.RoleID == shared.ID {
				assert.True(t, r.Shared)
				found = true
			}
		}
		assert.True(t, found)
	})
}

// TestNewGiverRoleIntegration tests cloning a template role for a giver
func TestNewGiverRoleIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	registerExistingGiver(service, "team", "9")
	team := Giver{Type: "team", ID: "9"}

	template, err := service.CreateRole(ctx, RoleInput{Name: uniq("Template"), Type: "team"})
	require.NoError(t, err)
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("use template")})
	require.NoError(t, err)
	ok, err := service.AddPermissions(ctx, RoleModel(template), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	clone, err := service.NewGiverRole(ctx, RoleModel(template), team)
	require.NoError(t, err)
	assert.NotEqual(t, template.ID, clone.ID)
	assert.NotEqual(t, template.Slug, clone.Slug)
	assert.True(t, clone.OwnedBy(team))

	perms, err := service.RolePermissions(ctx, RoleModel(clone))
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, perm.Slug, perms[0].Slug)

	// The clone grants through its giver where the template would not
	p := NewPrincipal("user", uniq("member"))
	ok, err = service.AssignRoleFrom(ctx, p, RoleModel(clone), team, nil)
	require.NoError(t, err)
	require.True(t, ok)

	can, err := service.HasPermissionTo(ctx, p, PermissionModel(perm), &team)
	require.NoError(t, err)
	assert.True(t, can)
}

// TestPrincipalQueriesIntegration tests the reverse lookups
func TestPrincipalQueriesIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Finder")})
	require.NoError(t, err)
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("findable cap")})
	require.NoError(t, err)
	ok, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	holder := NewPrincipal("user", uniq("holder"))
	direct := NewPrincipal("user", uniq("direct"))

	ok, err = service.AssignRole(ctx, holder, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = service.AssignPermission(ctx, direct, PermissionModel(perm), nil)
	require.NoError(t, err)
	require.True(t, ok)

	principals, err := service.PrincipalsWithRole(ctx, RoleModel(role))
	require.NoError(t, err)
	assert.Equal(t, []Principal{holder}, principals)

	principals, err = service.PrincipalsWithPermission(ctx, PermissionModel(perm))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Principal{holder, direct}, principals)
}

// TestIsLastAdminIntegration tests the advisory last-admin guard
func TestIsLastAdminIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	critical := uniq("govern site")
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: critical})
	require.NoError(t, err)

	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Sole Admin")})
	require.NoError(t, err)
	ok, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	// No holders yet
	last, err := service.IsLastAdmin(ctx, RoleModel(role), critical)
	require.NoError(t, err)
	assert.False(t, last)

	p := NewPrincipal("user", uniq("the-one"))
	ok, err = service.AssignRole(ctx, p, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)

	// Sole carrier of the critical permission with exactly one holder
	last, err = service.IsLastAdmin(ctx, RoleModel(role), critical)
	require.NoError(t, err)
	assert.True(t, last)

	// A second holder clears the flag
	p2 := NewPrincipal("user", uniq("another"))
	ok, err = service.AssignRole(ctx, p2, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)

	last, err = service.IsLastAdmin(ctx, RoleModel(role), critical)
	require.NoError(t, err)
	assert.False(t, last)

	// A second role carrying the permission also clears it
	backup, err := service.CreateRole(ctx, RoleInput{Name: uniq("Backup Admin")})
	require.NoError(t, err)
	ok, err = service.AddPermissions(ctx, RoleModel(backup), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = service.DetachRoles(ctx, p2, []RoleRef{RoleModel(role)}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	last, err = service.IsLastAdmin(ctx, RoleModel(role), critical)
	require.NoError(t, err)
	assert.False(t, last)
}

// TestCacheConsistencyIntegration tests that mutations invalidate cached
// snapshots
func TestCacheConsistencyIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	// Rebuild the service with an observable cache on the same store
	cache := newCountingCache()
	cached := NewService(service.db, cache, DefaultConfig())

	role, err := cached.CreateRole(ctx, RoleInput{Name: uniq("Cached Role")})
	require.NoError(t, err)
	perm, err := cached.CreatePermission(ctx, PermissionInput{Name: uniq("cached cap")})
	require.NoError(t, err)
	ok, err := cached.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	p := NewPrincipal("user", uniq("u"))

	// Warm the snapshot with a negative result
	can, err := cached.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	require.False(t, can)

	// Mutating through the same service must invalidate, not serve stale
	ok, err = cached.AssignRole(ctx, p, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)

	can, err = cached.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.True(t, can)

	// And the second identical check is served from cache
	getsBefore := cache.gets
	can, err = cached.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.True(t, can)
	assert.Greater(t, cache.gets, getsBefore)

	// Linkage change cascades to holders of the role
	ok, err = cached.DetachRolePermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	can, err = cached.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.False(t, can)
}
