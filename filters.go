package grantkit

import "github.com/uptrace/bun"

// RoleFilter provides options for filtering role listings.
type RoleFilter struct {
	// Match name or slug against this term (substring).
	Search string

	// Filter by role type.
	Type string

	// Filter by the usable flag.
	Usable *bool

	// Filter by owner. OwnerType alone matches every role of that owner
	// type; Shared limits to ownerless roles and wins over OwnerType.
	OwnerType string
	OwnerID   string
	Shared    bool

	// Filter by parent role id. RootsOnly limits to parentless roles.
	ParentID  int64
	RootsOnly bool

	// Include soft-deleted rows.
	WithDeleted bool

	// Pagination.
	Limit  int
	Offset int
}

// NewRoleFilter creates a RoleFilter with default values.
func NewRoleFilter() *RoleFilter {
	return &RoleFilter{
		Limit: 100,
	}
}

// WithSearch sets the name/slug search term.
func (f *RoleFilter) WithSearch(term string) *RoleFilter {
	f.Search = term
	return f
}

// WithType sets the role type filter.
func (f *RoleFilter) WithType(roleType string) *RoleFilter {
	f.Type = roleType
	return f
}

// WithUsable sets the usable flag filter.
func (f *RoleFilter) WithUsable(usable bool) *RoleFilter {
	f.Usable = &usable
	return f
}

// WithOwner limits results to roles owned by the giver.
func (f *RoleFilter) WithOwner(giver Giver) *RoleFilter {
	f.OwnerType = giver.Type
	f.OwnerID = giver.ID
	return f
}

// SharedOnly limits results to ownerless roles.
func (f *RoleFilter) SharedOnly() *RoleFilter {
	f.Shared = true
	return f
}

// WithParent limits results to direct children of the role id.
func (f *RoleFilter) WithParent(parentID int64) *RoleFilter {
	f.ParentID = parentID
	return f
}

// Roots limits results to parentless roles.
func (f *RoleFilter) Roots() *RoleFilter {
	f.RootsOnly = true
	return f
}

// IncludeDeleted includes soft-deleted rows in the results.
func (f *RoleFilter) IncludeDeleted() *RoleFilter {
	f.WithDeleted = true
	return f
}

// WithPagination sets both limit and offset.
func (f *RoleFilter) WithPagination(limit, offset int) *RoleFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func (f *RoleFilter) apply(q *bun.SelectQuery) *bun.SelectQuery {
	if f.Search != "" {
		term := "%" + f.Search + "%"
		q = q.Where("(name LIKE ? OR slug LIKE ?)", term, term)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Usable != nil {
		q = q.Where("usable = ?", *f.Usable)
	}
	switch {
	case f.Shared:
		q = q.Where("permitable_type IS NULL AND permitable_id IS NULL")
	case f.OwnerType != "" && f.OwnerID != "":
		q = q.Where("permitable_type = ? AND permitable_id = ?", f.OwnerType, f.OwnerID)
	case f.OwnerType != "":
		q = q.Where("permitable_type = ?", f.OwnerType)
	}
	if f.RootsOnly {
		q = q.Where("parent_id IS NULL")
	} else if f.ParentID != 0 {
		q = q.Where("parent_id = ?", f.ParentID)
	}
	if f.WithDeleted {
		q = q.WhereAllWithDeleted()
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	return q
}

// PermissionFilter provides options for filtering permission listings.
type PermissionFilter struct {
	// Match name or slug against this term (substring).
	Search string

	// Filter by permission type.
	Type string

	// Filter by the usable flag.
	Usable *bool

	// Include soft-deleted rows.
	WithDeleted bool

	// Pagination.
	Limit  int
	Offset int
}

// NewPermissionFilter creates a PermissionFilter with default values.
func NewPermissionFilter() *PermissionFilter {
	return &PermissionFilter{
		Limit: 100,
	}
}

// WithSearch sets the name/slug search term.
func (f *PermissionFilter) WithSearch(term string) *PermissionFilter {
	f.Search = term
	return f
}

// WithType sets the permission type filter.
func (f *PermissionFilter) WithType(permType string) *PermissionFilter {
	f.Type = permType
	return f
}

// WithUsable sets the usable flag filter.
func (f *PermissionFilter) WithUsable(usable bool) *PermissionFilter {
	f.Usable = &usable
	return f
}

// IncludeDeleted includes soft-deleted rows in the results.
func (f *PermissionFilter) IncludeDeleted() *PermissionFilter {
	f.WithDeleted = true
	return f
}

// WithPagination sets both limit and offset.
func (f *PermissionFilter) WithPagination(limit, offset int) *PermissionFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func (f *PermissionFilter) apply(q *bun.SelectQuery) *bun.SelectQuery {
	if f.Search != "" {
		term := "%" + f.Search + "%"
		q = q.Where("(name LIKE ? OR slug LIKE ?)", term, term)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Usable != nil {
		q = q.Where("usable = ?", *f.Usable)
	}
	if f.WithDeleted {
		q = q.WhereAllWithDeleted()
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	return q
}
