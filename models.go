package grantkit

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Principal identifies the entity whose access is checked: a (type, id)
// pair. The type tag keeps cache keys and grant rows disjoint when several
// principal kinds (users, service accounts, ...) share one store.
type Principal struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewPrincipal creates a Principal. An empty type defaults to "user".
func NewPrincipal(principalType, id string) Principal {
	if principalType == "" {
		principalType = DefaultPrincipalType
	}
	return Principal{Type: principalType, ID: id}
}

// DefaultPrincipalType is the type tag used when none is given.
const DefaultPrincipalType = "user"

// Giver is a secondary owning entity (e.g. a team) that can own roles and
// delegate them to principals acting on its behalf.
type Giver struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewGiver creates a Giver reference. The type tag must be registered in the
// service's GiverRegistry for checks through this giver to succeed.
func NewGiver(giverType, id string) *Giver {
	return &Giver{Type: giverType, ID: id}
}

// ParseGiver parses a "type:id" token into a Giver.
// Returns false for anything that is not exactly two non-empty segments.
func ParseGiver(token string) (Giver, bool) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Giver{}, false
	}
	return Giver{Type: strings.ToLower(parts[0]), ID: parts[1]}, true
}

// String returns the "type:id" token form of the giver.
func (g Giver) String() string {
	return g.Type + ":" + g.ID
}

// Role is a named, persisted grouping of permissions. Roles form a tree via
// ParentID; a role that has children is not usable (not assignable). A role
// with no permitable owner is a shared role for its type.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Name        string `bun:"name,notnull"`
	Slug        string `bun:"slug,notnull,unique"`
	Type        string `bun:"type,notnull"`
	Description string `bun:"description"`
	Usable      bool   `bun:"usable,notnull,default:true"`

	// Owner reference; both empty means a shared role.
	PermitableType string `bun:"permitable_type,nullzero"`
	PermitableID   string `bun:"permitable_id,nullzero"`

	ParentID int64 `bun:"parent_id,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero"`
}

// IsShared reports whether the role has no owner.
func (r *Role) IsShared() bool {
	return r.PermitableType == "" && r.PermitableID == ""
}

// OwnedBy reports whether the role belongs to the given giver.
func (r *Role) OwnedBy(giver Giver) bool {
	return r.PermitableType == giver.Type && r.PermitableID == giver.ID
}

// Permission is a persisted named capability. Names are stored lower-case and
// slugs are unique; checks accept either as the identifier.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	ID          int64  `bun:"id,pk,autoincrement"`
	Name        string `bun:"name,notnull"`
	Slug        string `bun:"slug,notnull,unique"`
	Type        string `bun:"type,notnull"`
	Description string `bun:"description"`
	Usable      bool   `bun:"usable,notnull,default:true"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero"`
}

// RolePermission links a role to a permission. No expiry: a role either
// carries a permission or it does not.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`

	RoleID       int64     `bun:"role_id,pk"`
	PermissionID int64     `bun:"permission_id,pk"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// RoleGrant assigns a role to a principal, optionally bounded in time and
// optionally scoped to the giver that sourced the grant.
type RoleGrant struct {
	bun.BaseModel `bun:"table:principal_roles,alias:pr"`

	ID            int64  `bun:"id,pk,autoincrement"`
	PrincipalType string `bun:"principal_type,notnull"`
	PrincipalID   string `bun:"principal_id,notnull"`
	RoleID        int64  `bun:"role_id,notnull"`

	// Which giver granted this role; both empty for unscoped grants.
	PermitableType string `bun:"permitable_type,nullzero"`
	PermitableID   string `bun:"permitable_id,nullzero"`

	ExpiresAt *time.Time `bun:"expires_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// PermissionGrant assigns a permission directly to a principal, independent
// of any role, optionally bounded in time.
type PermissionGrant struct {
	bun.BaseModel `bun:"table:principal_permissions,alias:ppr"`

	ID            int64      `bun:"id,pk,autoincrement"`
	PrincipalType string     `bun:"principal_type,notnull"`
	PrincipalID   string     `bun:"principal_id,notnull"`
	PermissionID  int64      `bun:"permission_id,notnull"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// validAt is the single validity predicate: a grant is valid while its
// expiry is unset or strictly in the future. An expiry equal to now is
// already expired.
func validAt(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || expiresAt.After(now)
}

// ============================================================================
// RESOLUTION SNAPSHOTS
// ============================================================================
//
// Snapshots are what the cache stores: grants together with their expiry and
// the role flags they were loaded with. Validity is re-evaluated against the
// clock on every check, so a grant expiring inside the cache TTL window goes
// stale without any cache sweep.

// GrantedRole is one role grant in a principal's snapshot.
type GrantedRole struct {
	RoleID         int64      `json:"role_id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Usable         bool       `json:"usable"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PermitableType string     `json:"permitable_type,omitempty"`
	PermitableID   string     `json:"permitable_id,omitempty"`
}

// ValidAt reports whether the grant counts at the given instant. A role
// flagged unusable never counts, regardless of expiry.
func (g GrantedRole) ValidAt(now time.Time) bool {
	return g.Usable && validAt(g.ExpiresAt, now)
}

// ScopedTo reports whether the grant satisfies a check through the given
// giver: unscoped grants do, scoped grants only when the keys match.
func (g GrantedRole) ScopedTo(giver Giver) bool {
	if g.PermitableType == "" && g.PermitableID == "" {
		return true
	}
	return g.PermitableType == giver.Type && g.PermitableID == giver.ID
}

// RoleSet is a principal's role snapshot.
type RoleSet struct {
	Principal Principal     `json:"principal"`
	Roles     []GrantedRole `json:"roles"`
}

// ValidAt returns the grants that count at the given instant.
func (s *RoleSet) ValidAt(now time.Time) []GrantedRole {
	valid := make([]GrantedRole, 0, len(s.Roles))
	for _, g := range s.Roles {
		if g.ValidAt(now) {
			valid = append(valid, g)
		}
	}
	return valid
}

// SlugsAt returns the slugs of the grants valid at the given instant.
func (s *RoleSet) SlugsAt(now time.Time) []string {
	var slugs []string
	for _, g := range s.Roles {
		if g.ValidAt(now) {
			slugs = append(slugs, g.Slug)
		}
	}
	return slugs
}

// HasAnySlug reports whether any currently-valid grant matches one of the
// given role slugs.
func (s *RoleSet) HasAnySlug(now time.Time, slugs ...string) bool {
	for _, g := range s.Roles {
		if !g.ValidAt(now) {
			continue
		}
		for _, slug := range slugs {
			if g.Slug == slug {
				return true
			}
		}
	}
	return false
}

// GrantedPermission is one direct permission grant in a principal's snapshot.
type GrantedPermission struct {
	PermissionID int64      `json:"permission_id"`
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ValidAt reports whether the grant counts at the given instant.
func (g GrantedPermission) ValidAt(now time.Time) bool {
	return validAt(g.ExpiresAt, now)
}

// PermissionSet is a principal's direct-permission snapshot.
type PermissionSet struct {
	Principal   Principal           `json:"principal"`
	Permissions []GrantedPermission `json:"permissions"`
}

// Has reports whether a currently-valid direct grant matches the permission
// identifier (name or slug).
func (s *PermissionSet) Has(now time.Time, identifier string) bool {
	for _, g := range s.Permissions {
		if g.ValidAt(now) && (g.Slug == identifier || g.Name == identifier) {
			return true
		}
	}
	return false
}

// PermissionRoles is one entry of the global permission-to-roles index:
// a usable permission and the usable roles that carry it.
type PermissionRoles struct {
	PermissionID int64    `json:"permission_id"`
	Name         string   `json:"name"`
	Slug         string   `json:"slug"`
	RoleIDs      []int64  `json:"role_ids"`
	RoleSlugs    []string `json:"role_slugs"`
}

// PermissionIndex is the cached permission-to-roles map.
type PermissionIndex struct {
	Entries []PermissionRoles `json:"entries"`
}

// Find resolves a permission by name or slug. Returns nil when nothing
// matches: callers fail closed.
func (idx *PermissionIndex) Find(identifier string) *PermissionRoles {
	for i := range idx.Entries {
		if idx.Entries[i].Slug == identifier || idx.Entries[i].Name == identifier {
			return &idx.Entries[i]
		}
	}
	return nil
}

// FindByID resolves a permission entry by id.
func (idx *PermissionIndex) FindByID(id int64) *PermissionRoles {
	for i := range idx.Entries {
		if idx.Entries[i].PermissionID == id {
			return &idx.Entries[i]
		}
	}
	return nil
}

// OwnedRole is one role in a giver's snapshot: a role owned by the giver, or
// a shared role of the giver's type when the shared-roles policy is on.
type OwnedRole struct {
	RoleID int64  `json:"role_id"`
	Slug   string `json:"slug"`
	Type   string `json:"type"`
	Usable bool   `json:"usable"`
	Shared bool   `json:"shared"`
}

// GiverRoleSet is a giver's cached role snapshot.
type GiverRoleSet struct {
	Giver Giver       `json:"giver"`
	Roles []OwnedRole `json:"roles"`
}

// Slugs returns the slugs of the giver's usable roles.
func (s *GiverRoleSet) Slugs() []string {
	var slugs []string
	for _, r := range s.Roles {
		if r.Usable {
			slugs = append(slugs, r.Slug)
		}
	}
	return slugs
}

// ============================================================================
// SLUGS
// ============================================================================

// Slugify lowercases a name and folds runs of non-alphanumeric characters
// into single hyphens: "Basic Admin" -> "basic-admin".
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	hyphen := false
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
			continue
		}
		hyphen = true
	}
	return b.String()
}

// roleSlug derives a role's slug: the parent's name prefixes the child's so
// slugs stay unique across the tree ("Admin" + "Root" -> "admin-root").
func roleSlug(name, parentName string) string {
	if parentName == "" {
		return Slugify(name)
	}
	return Slugify(parentName + " " + name)
}
