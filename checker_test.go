package grantkit

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func testChecker(now time.Time) *Checker {
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	roles := &RoleSet{
		Principal: NewPrincipal("user", "u1"),
		Roles: []GrantedRole{
			{RoleID: 1, Slug: "admin-basic", Usable: true},
			{RoleID: 2, Slug: "editor", Usable: true, ExpiresAt: &later, PermitableType: "team", PermitableID: "42"},
			{RoleID: 3, Slug: "reviewer", Usable: true, ExpiresAt: &earlier},
		},
	}
	permissions := &PermissionSet{
		Principal: NewPrincipal("user", "u1"),
		Permissions: []GrantedPermission{
			{PermissionID: 10, Slug: "impersonate-user", Name: "impersonate user"},
		},
	}
	index := &PermissionIndex{
		Entries: []PermissionRoles{
			{PermissionID: 11, Name: "browse users", Slug: "browse-users", RoleSlugs: []string{"admin-basic", "admin-root"}},
			{PermissionID: 12, Name: "publish posts", Slug: "publish-posts", RoleSlugs: []string{"editor"}},
			{PermissionID: 13, Name: "approve posts", Slug: "approve-posts", RoleSlugs: []string{"reviewer"}},
			{PermissionID: 14, Name: "delete admins", Slug: "delete-admins", RoleSlugs: []string{"admin-root"}},
		},
	}

	c := NewChecker(NewPrincipal("user", "u1"), roles, permissions, index)
	c.now = fixedClock(now)
	return c
}

// TestCheckerHasRole tests role checks over the snapshot
func TestCheckerHasRole(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := testChecker(now)

	assert.True(t, c.HasRole("admin-basic"))
	assert.True(t, c.HasRole("missing", "editor"))
	assert.False(t, c.HasRole("reviewer"))
	assert.False(t, c.HasRole("admin-root"))

	assert.True(t, c.HasAllRoles("admin-basic", "editor"))
	assert.False(t, c.HasAllRoles("admin-basic", "reviewer"))
}

// TestCheckerCan tests permission checks through roles and direct grants
func TestCheckerCan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := testChecker(now)

	// Through a valid role, by slug and by name
	assert.True(t, c.Can("browse-users"))
	assert.True(t, c.Can("browse users"))

	// Direct grant
	assert.True(t, c.Can("impersonate user"))

	// Carried only by an expired role
	assert.False(t, c.Can("approve posts"))

	// Carried only by a role the principal does not hold
	assert.False(t, c.Can("delete admins"))

	// Unknown identifier fails closed
	assert.False(t, c.Can("launch missiles"))

	assert.True(t, c.CanAny("launch missiles", "browse users"))
	assert.False(t, c.CanAny("launch missiles"))
	assert.True(t, c.CanAll("browse users", "publish posts"))
	assert.False(t, c.CanAll("browse users", "delete admins"))
}

// TestCheckerExpiryMidSnapshot tests that validity follows the clock, not
// the load time
func TestCheckerExpiryMidSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := testChecker(now)

	assert.True(t, c.Can("publish posts"))

	// Advance past the editor grant's expiry; the same snapshot now denies
	c.now = fixedClock(now.Add(2 * time.Hour))
	assert.False(t, c.Can("publish posts"))
	assert.False(t, c.HasRole("editor"))
}

// TestCheckerCanFor tests giver-scoped checks over the snapshot
func TestCheckerCanFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := testChecker(now)

	team := Giver{Type: "team", ID: "42"}
	other := Giver{Type: "team", ID: "7"}

	// The editor grant is scoped to team 42
	assert.True(t, c.CanFor("publish posts", team))
	assert.False(t, c.CanFor("publish posts", other))

	// Unscoped role grants satisfy any giver
	assert.True(t, c.CanFor("browse users", other))

	// Direct grants are not giver-scoped
	assert.True(t, c.CanFor("impersonate user", other))
}

// TestCheckerSlugs tests the enumeration helpers
func TestCheckerSlugs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := testChecker(now)

	roles := c.RoleSlugs()
	sort.Strings(roles)
	assert.Equal(t, []string{"admin-basic", "editor"}, roles)

	perms := c.PermissionSlugs()
	sort.Strings(perms)
	assert.Equal(t, []string{"browse-users", "impersonate-user", "publish-posts"}, perms)
}

// TestCheckerIsEmpty tests the empty snapshot case
func TestCheckerIsEmpty(t *testing.T) {
	now := time.Now()
	c := NewChecker(NewPrincipal("user", "nobody"),
		&RoleSet{}, &PermissionSet{}, &PermissionIndex{})
	c.now = fixedClock(now)

	assert.True(t, c.IsEmpty())
	assert.False(t, c.HasRole("admin-basic"))
	assert.False(t, c.Can("browse users"))

	full := testChecker(now)
	assert.False(t, full.IsEmpty())
}
