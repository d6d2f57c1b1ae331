package grantkit

import (
	"context"
	"database/sql"
	"errors"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// ============================================================================
// GRANT RESOLUTION
// ============================================================================

// HasRole reports whether the principal's current valid role set intersects
// the given slugs. A grant is valid while unexpired; a role flagged unusable
// never counts.
func (s *Service) HasRole(ctx context.Context, p Principal, slugs ...string) (bool, error) {
	if len(slugs) == 0 {
		return false, nil
	}
	set, err := s.ValidRoles(ctx, p)
	if err != nil {
		return false, err
	}
	return set.HasAnySlug(s.now(), slugs...), nil
}

// HasPermission reports whether the principal holds the permission, either
// through a currently-valid direct grant or through any currently-valid role
// that carries it.
func (s *Service) HasPermission(ctx context.Context, p Principal, perm PermissionRef) (bool, error) {
	through, err := s.hasPermissionThroughRole(ctx, p, perm)
	if err != nil {
		return false, err
	}
	if through {
		return true, nil
	}
	return s.hasDirectPermission(ctx, p, perm)
}

// HasPermissionTo is HasPermission restricted to a giver: the permission
// must be reachable through a role sourced from that giver (or a shared role
// of the giver's type when the shared-roles policy is on), or held directly.
// A nil giver delegates to HasPermission.
//
// The check fails closed: an unregistered giver type or a missing giver
// entity is a false result, not an error.
func (s *Service) HasPermissionTo(ctx context.Context, p Principal, perm PermissionRef, giver *Giver) (bool, error) {
	if giver == nil {
		return s.HasPermission(ctx, p, perm)
	}

	through, err := s.hasPermissionThroughGiver(ctx, p, perm, *giver)
	if err != nil {
		return false, err
	}
	if through {
		return true, nil
	}
	return s.hasDirectPermission(ctx, p, perm)
}

// HasPermissionToToken is HasPermissionTo with the giver supplied as a
// "type:id" token, as it typically arrives from a request path. A malformed
// token fails closed.
func (s *Service) HasPermissionToToken(ctx context.Context, p Principal, perm PermissionRef, token string) (bool, error) {
	giver, ok := ParseGiver(token)
	if !ok {
		return false, nil
	}
	return s.HasPermissionTo(ctx, p, perm, &giver)
}

// VerifyGiver explains why a giver would fail a check: ErrGiverNotRegistered
// when its type has no lookup, ErrGiverNotFound when the entity is missing.
// Checks themselves fail closed instead of erroring; this is the diagnostic
// surface for hosts that want the reason.
func (s *Service) VerifyGiver(ctx context.Context, giver Giver) error {
	lookup, ok := s.givers.Lookup(giver.Type)
	if !ok {
		return NewError(ErrGiverNotRegistered, "no lookup registered for giver type").WithGiver(giver)
	}
	exists, err := lookup(ctx, giver.ID)
	if err != nil {
		return err
	}
	if !exists {
		return NewError(ErrGiverNotFound, "giver entity does not exist").WithGiver(giver)
	}
	return nil
}

// hasDirectPermission checks the principal's direct grants only.
func (s *Service) hasDirectPermission(ctx context.Context, p Principal, perm PermissionRef) (bool, error) {
	token := perm.identifier()
	if token == "" {
		// Id-only ref: map it to a slug through the index.
		idx, err := s.PermissionIndex(ctx)
		if err != nil {
			return false, err
		}
		entry := idx.FindByID(perm.id)
		if entry == nil {
			return false, nil
		}
		token = entry.Slug
	}

	set, err := s.ValidPermissions(ctx, p)
	if err != nil {
		return false, err
	}
	return set.Has(s.now(), token), nil
}

// hasPermissionThroughRole checks whether any of the principal's valid roles
// carries the permission, with no giver restriction.
func (s *Service) hasPermissionThroughRole(ctx context.Context, p Principal, perm PermissionRef) (bool, error) {
	entry, err := s.findIndexEntry(ctx, perm)
	if err != nil || entry == nil {
		return false, err
	}
	if len(entry.RoleSlugs) == 0 {
		return false, nil
	}
	set, err := s.ValidRoles(ctx, p)
	if err != nil {
		return false, err
	}
	return set.HasAnySlug(s.now(), entry.RoleSlugs...), nil
}

// hasPermissionThroughGiver applies the giver-restricted algorithm:
// resolve the giver (fail closed), compute its role set, intersect with the
// permission-carrying roles, then require the principal to hold one of the
// intersecting roles through a grant scoped to this giver (or unscoped).
func (s *Service) hasPermissionThroughGiver(ctx context.Context, p Principal, perm PermissionRef, giver Giver) (bool, error) {
	exists, err := s.givers.resolve(ctx, giver)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	entry, err := s.findIndexEntry(ctx, perm)
	if err != nil || entry == nil {
		return false, err
	}

	giverSet, err := s.GiverRoles(ctx, giver)
	if err != nil {
		return false, err
	}

	carrying := make(map[string]struct{}, len(entry.RoleSlugs))
	for _, slug := range entry.RoleSlugs {
		carrying[slug] = struct{}{}
	}
	eligible := make(map[string]struct{})
	for _, slug := range giverSet.Slugs() {
		if _, ok := carrying[slug]; ok {
			eligible[slug] = struct{}{}
		}
	}
	if len(eligible) == 0 {
		return false, nil
	}

	set, err := s.ValidRoles(ctx, p)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, grant := range set.Roles {
		if !grant.ValidAt(now) {
			continue
		}
		if _, ok := eligible[grant.Slug]; !ok {
			continue
		}
		if grant.ScopedTo(giver) {
			return true, nil
		}
	}
	return false, nil
}

// findIndexEntry resolves a permission ref against the global index,
// accepting name, slug or id. Nil means the permission does not resolve and
// the check fails closed.
func (s *Service) findIndexEntry(ctx context.Context, perm PermissionRef) (*PermissionRoles, error) {
	idx, err := s.PermissionIndex(ctx)
	if err != nil {
		return nil, err
	}
	if token := perm.identifier(); token != "" {
		return idx.Find(token), nil
	}
	if perm.id != 0 {
		return idx.FindByID(perm.id), nil
	}
	return nil, nil
}

// ============================================================================
// SNAPSHOT LOADING
// ============================================================================

// ValidRoles returns the principal's role snapshot: grants unexpired at load
// time, against live roles, with expiry and scoping retained so validity is
// re-evaluated on every check. Served from cache when enabled.
func (s *Service) ValidRoles(ctx context.Context, p Principal) (*RoleSet, error) {
	return remember(ctx, s, rolesCacheKey(p), func(ctx context.Context) (*RoleSet, error) {
		return s.loadRoleSet(ctx, p)
	})
}

// ValidPermissions returns the principal's direct-permission snapshot.
// Served from cache when enabled.
func (s *Service) ValidPermissions(ctx context.Context, p Principal) (*PermissionSet, error) {
	return remember(ctx, s, permissionsCacheKey(p), func(ctx context.Context) (*PermissionSet, error) {
		return s.loadPermissionSet(ctx, p)
	})
}

// PermissionIndex returns the global permission-to-roles index over usable,
// live permissions and roles. Served from cache when enabled.
func (s *Service) PermissionIndex(ctx context.Context) (*PermissionIndex, error) {
	return remember(ctx, s, cacheKeyPermissionMap, func(ctx context.Context) (*PermissionIndex, error) {
		return s.loadPermissionIndex(ctx)
	})
}

// GiverRoles returns a giver's role snapshot: roles it owns, plus every
// usable ownerless role of its type when the shared-roles policy is on.
// Served from cache when enabled.
func (s *Service) GiverRoles(ctx context.Context, giver Giver) (*GiverRoleSet, error) {
	return remember(ctx, s, giverRolesCacheKey(giver), func(ctx context.Context) (*GiverRoleSet, error) {
		return s.loadGiverRoleSet(ctx, giver)
	})
}

func (s *Service) loadRoleSet(ctx context.Context, p Principal) (*RoleSet, error) {
	var grants []GrantedRole
	err := s.db.NewRaw(`
		SELECT pr.role_id, r.slug, r.name, r.type, r.usable, pr.expires_at,
		       COALESCE(pr.permitable_type, '') AS permitable_type,
		       COALESCE(pr.permitable_id, '') AS permitable_id
		FROM principal_roles pr
		JOIN roles r ON r.id = pr.role_id
		WHERE pr.principal_type = ? AND pr.principal_id = ?
		  AND r.deleted_at IS NULL
		  AND (pr.expires_at IS NULL OR pr.expires_at > ?)`,
		p.Type, p.ID, s.now()).Scan(ctx, &grants)
	err = dbkit.WithErr1(err, "LoadRoleSet").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &RoleSet{Principal: p, Roles: grants}, nil
}

func (s *Service) loadPermissionSet(ctx context.Context, p Principal) (*PermissionSet, error) {
	var grants []GrantedPermission
	err := s.db.NewRaw(`
		SELECT ppr.permission_id, p.slug, p.name, ppr.expires_at
		FROM principal_permissions ppr
		JOIN permissions p ON p.id = ppr.permission_id
		WHERE ppr.principal_type = ? AND ppr.principal_id = ?
		  AND p.deleted_at IS NULL
		  AND (ppr.expires_at IS NULL OR ppr.expires_at > ?)`,
		p.Type, p.ID, s.now()).Scan(ctx, &grants)
	err = dbkit.WithErr1(err, "LoadPermissionSet").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &PermissionSet{Principal: p, Permissions: grants}, nil
}

func (s *Service) loadPermissionIndex(ctx context.Context) (*PermissionIndex, error) {
	var rows []struct {
		PermissionID int64  `bun:"permission_id"`
		Name         string `bun:"name"`
		Slug         string `bun:"slug"`
		RoleID       int64  `bun:"role_id"`
		RoleSlug     string `bun:"role_slug"`
	}
	err := s.db.NewRaw(`
		SELECT p.id AS permission_id, p.name, p.slug,
		       COALESCE(r.id, 0) AS role_id,
		       COALESCE(r.slug, '') AS role_slug
		FROM permissions p
		LEFT JOIN role_permissions rp ON rp.permission_id = p.id
		LEFT JOIN roles r ON r.id = rp.role_id AND r.usable = TRUE AND r.deleted_at IS NULL
		WHERE p.usable = TRUE AND p.deleted_at IS NULL
		ORDER BY p.id`).Scan(ctx, &rows)
	err = dbkit.WithErr1(err, "LoadPermissionIndex").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	idx := &PermissionIndex{}
	byID := make(map[int64]int)
	for _, row := range rows {
		pos, ok := byID[row.PermissionID]
		if !ok {
			pos = len(idx.Entries)
			byID[row.PermissionID] = pos
			idx.Entries = append(idx.Entries, PermissionRoles{
				PermissionID: row.PermissionID,
				Name:         row.Name,
				Slug:         row.Slug,
			})
		}
		if row.RoleID != 0 {
			idx.Entries[pos].RoleIDs = append(idx.Entries[pos].RoleIDs, row.RoleID)
			idx.Entries[pos].RoleSlugs = append(idx.Entries[pos].RoleSlugs, row.RoleSlug)
		}
	}
	return idx, nil
}

func (s *Service) loadGiverRoleSet(ctx context.Context, giver Giver) (*GiverRoleSet, error) {
	var owned []Role
	err := dbkit.WithErr1(s.db.NewSelect().Model(&owned).
		Where("permitable_type = ? AND permitable_id = ?", giver.Type, giver.ID).
		Scan(ctx), "LoadGiverRoles").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	set := &GiverRoleSet{Giver: giver}
	for _, role := range owned {
		set.Roles = append(set.Roles, OwnedRole{
			RoleID: role.ID,
			Slug:   role.Slug,
			Type:   role.Type,
			Usable: role.Usable,
		})
	}

	if s.config.AllowSharedRoles {
		var shared []Role
		err = dbkit.WithErr1(s.db.NewSelect().Model(&shared).
			Where("permitable_type IS NULL AND permitable_id IS NULL").
			Where("type = ?", giver.Type).
			Where("usable = TRUE").
			Scan(ctx), "LoadSharedRoles").Err()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		for _, role := range shared {
			set.Roles = append(set.Roles, OwnedRole{
				RoleID: role.ID,
				Slug:   role.Slug,
				Type:   role.Type,
				Usable: role.Usable,
				Shared: true,
			})
		}
	}
	return set, nil
}

// ============================================================================
// PRINCIPAL QUERIES
// ============================================================================

// PrincipalsWithRole returns the principals currently holding a valid grant
// of the role.
func (s *Service) PrincipalsWithRole(ctx context.Context, role RoleRef) ([]Principal, error) {
	id, ok, err := s.resolveRoleID(ctx, role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var principals []Principal
	err = dbkit.WithErr1(s.db.NewRaw(`
		SELECT DISTINCT principal_type AS type, principal_id AS id
		FROM principal_roles
		WHERE role_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		id, s.now()).Scan(ctx, &principals), "PrincipalsWithRole").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return principals, nil
}

// PrincipalsWithPermission returns the principals that would pass
// HasPermission right now, whether through a role or a direct grant.
func (s *Service) PrincipalsWithPermission(ctx context.Context, perm PermissionRef) ([]Principal, error) {
	entry, err := s.findIndexEntry(ctx, perm)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	now := s.now()
	seen := make(map[Principal]struct{})
	var result []Principal

	if len(entry.RoleIDs) > 0 {
		var viaRoles []Principal
		err = dbkit.WithErr1(s.db.NewRaw(`
			SELECT DISTINCT principal_type AS type, principal_id AS id
			FROM principal_roles
			WHERE role_id IN (?) AND (expires_at IS NULL OR expires_at > ?)`,
			bun.In(entry.RoleIDs), now).Scan(ctx, &viaRoles), "PrincipalsWithPermissionRoles").Err()
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		for _, p := range viaRoles {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				result = append(result, p)
			}
		}
	}

	var direct []Principal
	err = dbkit.WithErr1(s.db.NewRaw(`
		SELECT DISTINCT principal_type AS type, principal_id AS id
		FROM principal_permissions
		WHERE permission_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		entry.PermissionID, now).Scan(ctx, &direct), "PrincipalsWithPermissionDirect").Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	for _, p := range direct {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			result = append(result, p)
		}
	}
	return result, nil
}

// ============================================================================
// CASCADE INVALIDATION
// ============================================================================

// flushPrincipalsWithRoles forgets the cached snapshots of every principal
// holding any of the given roles, in batches, so a role or linkage change
// cannot keep serving pre-mutation grants from cache.
func (s *Service) flushPrincipalsWithRoles(ctx context.Context, roleIDs ...int64) {
	if !s.config.CacheEnabled || len(roleIDs) == 0 {
		return
	}
	var principals []Principal
	err := s.db.NewRaw(`
		SELECT DISTINCT principal_type AS type, principal_id AS id
		FROM principal_roles WHERE role_id IN (?)`,
		bun.In(roleIDs)).Scan(ctx, &principals)
	if err != nil {
		// Flush failures degrade to TTL expiry; resolution stays correct on
		// the next cache miss.
		return
	}
	s.flushPrincipalBatches(ctx, principals)
}

// flushPrincipalsWithPermission forgets the cached snapshots of every
// principal directly granted the permission, in batches.
func (s *Service) flushPrincipalsWithPermission(ctx context.Context, permissionID int64) {
	if !s.config.CacheEnabled {
		return
	}
	var principals []Principal
	err := s.db.NewRaw(`
		SELECT DISTINCT principal_type AS type, principal_id AS id
		FROM principal_permissions WHERE permission_id = ?`,
		permissionID).Scan(ctx, &principals)
	if err != nil {
		return
	}
	s.flushPrincipalBatches(ctx, principals)
}

func (s *Service) flushPrincipalBatches(ctx context.Context, principals []Principal) {
	for start := 0; start < len(principals); start += flushBatchSize {
		end := start + flushBatchSize
		if end > len(principals) {
			end = len(principals)
		}
		keys := make([]string, 0, 2*(end-start))
		for _, p := range principals[start:end] {
			keys = append(keys, rolesCacheKey(p), permissionsCacheKey(p))
		}
		s.forget(ctx, keys...)
	}
}
