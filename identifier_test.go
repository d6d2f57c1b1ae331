package grantkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRoleRefZero tests zero-value detection
func TestRoleRefZero(t *testing.T) {
	assert.True(t, RoleRef{}.IsZero())
	assert.False(t, RoleByID(1).IsZero())
	assert.False(t, RoleBySlug("admin").IsZero())
	assert.False(t, RoleModel(&Role{ID: 1}).IsZero())
}

// TestPermissionRefIdentifier tests the token each ref kind resolves by
func TestPermissionRefIdentifier(t *testing.T) {
	assert.Equal(t, "browse-users", PermissionBySlug("browse-users").identifier())
	assert.Equal(t, "browse users", PermissionByName("browse users").identifier())
	assert.Equal(t, "browse-users", PermissionModel(&Permission{ID: 1, Slug: "browse-users"}).identifier())

	// Id-only refs resolve through the index, not by token
	assert.Equal(t, "", PermissionByID(1).identifier())
}

// TestPermissionByNameLowering tests case-insensitive name refs
func TestPermissionByNameLowering(t *testing.T) {
	assert.Equal(t, "delete admins", PermissionByName("Delete Admins").identifier())
	assert.True(t, PermissionRef{}.IsZero())
	assert.False(t, PermissionByName("x").IsZero())
}
