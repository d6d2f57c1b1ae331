package grantkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPermissionLifecycleIntegration tests permission creation and lookup
func TestPermissionLifecycleIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	name := uniq("Manage Widgets")

	t.Run("create lower-cases the name", func(t *testing.T) {
		perm, err := service.CreatePermission(ctx, PermissionInput{Name: name})
		require.NoError(t, err)
		assert.Equal(t, Slugify(name), perm.Slug)
		assert.NotContains(t, perm.Name, "M")
		assert.True(t, perm.Usable)
	})

	t.Run("duplicate slug is rejected", func(t *testing.T) {
		_, err := service.CreatePermission(ctx, PermissionInput{Name: name})
		require.Error(t, err)
		assert.True(t, IsDuplicateSlug(err))
	})

	t.Run("find by name is case-insensitive", func(t *testing.T) {
		perm, err := service.FindPermission(ctx, PermissionByName(name))
		require.NoError(t, err)
		assert.Equal(t, Slugify(name), perm.Slug)
	})

	t.Run("bulk create skips existing slugs", func(t *testing.T) {
		extra := uniq("extra cap")
		created, err := service.CreatePermissions(ctx, "", name, extra, extra)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, Slugify(extra), created[0].Slug)
	})
}

// TestRolePermissionLinkageIntegration tests attach, sync and detach of
// permission links
func TestRolePermissionLinkageIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Linker")})
	require.NoError(t, err)

	marker := uniq("cap")
	created, err := service.CreatePermissions(ctx, "", marker+" one", marker+" two", marker+" three")
	require.NoError(t, err)
	require.Len(t, created, 3)
	p1, p2, p3 := created[0], created[1], created[2]

	t.Run("add attaches without detaching", func(t *testing.T) {
		ok, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(&p1), PermissionModel(&p2))
		require.NoError(t, err)
		assert.True(t, ok)

		// Re-adding an existing link plus one new one attaches only the new
		ok, err = service.AddPermissions(ctx, RoleModel(role), PermissionModel(&p1), PermissionModel(&p3))
		require.NoError(t, err)
		assert.True(t, ok)

		perms, err := service.RolePermissions(ctx, RoleModel(role))
		require.NoError(t, err)
		assert.Len(t, perms, 3)

		// Nothing new left to add
		ok, err = service.AddPermissions(ctx, RoleModel(role), PermissionModel(&p1))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sync converges to the given set", func(t *testing.T) {
		ok, err := service.SyncPermissions(ctx, RoleModel(role), PermissionModel(&p2))
		require.NoError(t, err)
		assert.True(t, ok)

		perms, err := service.RolePermissions(ctx, RoleModel(role))
		require.NoError(t, err)
		require.Len(t, perms, 1)
		assert.Equal(t, p2.Slug, perms[0].Slug)

		// Syncing to the same set changes nothing
		ok, err = service.SyncPermissions(ctx, RoleModel(role), PermissionModel(&p2))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("detach removes given links only", func(t *testing.T) {
		ok, err := service.AddPermissions(ctx, RoleModel(role), PermissionModel(&p1))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = service.DetachRolePermissions(ctx, RoleModel(role), PermissionModel(&p1))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = service.DetachRolePermissions(ctx, RoleModel(role), PermissionModel(&p1))
		require.NoError(t, err)
		assert.False(t, ok)

		perms, err := service.RolePermissions(ctx, RoleModel(role))
		require.NoError(t, err)
		assert.Len(t, perms, 1)
	})
}

// TestLinkageResolutionIntegration tests that linkage changes are visible to
// checks immediately
func TestLinkageResolutionIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Holder")})
	require.NoError(t, err)
	marker := uniq("gate")
	created, err := service.CreatePermissions(ctx, "", marker+" open", marker+" close")
	require.NoError(t, err)
	require.Len(t, created, 2)
	open, closeP := created[0], created[1]

	p := NewPrincipal("user", uniq("u"))
	ok, err := service.AssignRole(ctx, p, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = service.AddPermissions(ctx, RoleModel(role), PermissionModel(&open))
	require.NoError(t, err)
	require.True(t, ok)

	can, err := service.HasPermission(ctx, p, PermissionModel(&open))
	require.NoError(t, err)
	assert.True(t, can)
	can, err = service.HasPermission(ctx, p, PermissionModel(&closeP))
	require.NoError(t, err)
	assert.False(t, can)

	// Swap the linked permission; checks must flip with it
	ok, err = service.SyncPermissions(ctx, RoleModel(role), PermissionModel(&closeP))
	require.NoError(t, err)
	require.True(t, ok)

	can, err = service.HasPermission(ctx, p, PermissionModel(&open))
	require.NoError(t, err)
	assert.False(t, can)
	can, err = service.HasPermission(ctx, p, PermissionModel(&closeP))
	require.NoError(t, err)
	assert.True(t, can)
}

// TestPermissionDeletionIntegration tests soft and hard permission removal
func TestPermissionDeletionIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Bearer")})
	require.NoError(t, err)
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("volatile cap")})
	require.NoError(t, err)

	p := NewPrincipal("user", uniq("u"))
	ok, err := service.AssignRole(ctx, p, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("soft delete hides the permission from checks", func(t *testing.T) {
		ok, err := service.DeletePermission(ctx, PermissionModel(perm))
		require.NoError(t, err)
		assert.True(t, ok)

		can, err := service.HasPermission(ctx, p, PermissionBySlug(perm.Slug))
		require.NoError(t, err)
		assert.False(t, can)

		_, err = service.FindPermission(ctx, PermissionBySlug(perm.Slug))
		assert.True(t, IsNotFound(err))
	})

	t.Run("force delete removes links and grants", func(t *testing.T) {
		ok, err := service.ForceDeletePermission(ctx, PermissionBySlug(perm.Slug))
		require.NoError(t, err)
		assert.True(t, ok)

		perms, err := service.RolePermissions(ctx, RoleModel(role))
		require.NoError(t, err)
		assert.Empty(t, perms)

		ok, err = service.ForceDeletePermission(ctx, PermissionBySlug(perm.Slug))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestPermissionExpiryPrecedenceIntegration tests a role-carried permission
// against an expiring direct grant of another
func TestPermissionExpiryPrecedenceIntegration(t *testing.T) {
	ctx, service := mustSetup(t)
	if service == nil {
		return
	}

	base := time.Now().UTC().Truncate(time.Second)
	service.now = func() time.Time { return base }

	p := NewPrincipal("user", uniq("u"))
	perm, err := service.CreatePermission(ctx, PermissionInput{Name: uniq("flicker cap")})
	require.NoError(t, err)

	expiry := base.Add(time.Minute)
	ok, err := service.AssignPermission(ctx, p, PermissionModel(perm), &expiry)
	require.NoError(t, err)
	require.True(t, ok)

	can, err := service.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.True(t, can)

	service.now = func() time.Time { return expiry }
	can, err = service.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.False(t, can)

	// A role-carried grant is unaffected by the direct grant's expiry
	role, err := service.CreateRole(ctx, RoleInput{Name: uniq("Backup")})
	require.NoError(t, err)
	ok, err = service.AddPermissions(ctx, RoleModel(role), PermissionModel(perm))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = service.AssignRole(ctx, p, RoleModel(role), nil)
	require.NoError(t, err)
	require.True(t, ok)

	can, err = service.HasPermission(ctx, p, PermissionModel(perm))
	require.NoError(t, err)
	assert.True(t, can)
}
