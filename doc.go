// Package grantkit is a role-based access control engine with hierarchical
// roles, time-bounded grants, owner-scoped ("giver") delegation and cached
// resolution.
//
// GrantKit answers one question: does a principal currently hold a given
// permission, either directly or through one of its roles, optionally on
// behalf of a secondary owning entity such as a team?
//
// # Core Concepts
//
// Principal: the entity whose access is being checked, identified by a
// (type, id) pair. The type tag defaults to "user".
//
// Role: a persisted, named grouping of permissions. Roles form a tree: a role
// may have one parent and many children, and a role that gains a child is
// marked unusable; only leaves (and childless roots) are assignable.
//
// Permission: a persisted named capability. Names are stored lower-case;
// slugs are unique. A permission check accepts either the name or the slug.
//
// Grant: the association between a principal and a role or permission,
// carrying an optional expiry. A grant is valid while its expiry is unset or
// in the future; expiry is evaluated at check time, not at cache-fill time.
//
// Giver: an owning entity (for example a team) registered by type tag. Roles
// may belong to a giver; roles with no owner are "shared" and, when the
// shared-roles policy is enabled, implicitly available to every giver of
// their type.
//
// # Basic Usage
//
//	// 1. Open the database and (optionally) Redis
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	// 2. Create the service
//	cfg := grantkit.DefaultConfig()
//	service := grantkit.NewService(db, grantkit.NewRedisCache(rdb, ""), cfg)
//
//	// 3. Run migrations and seed the default role tree
//	service.Migrate(ctx)
//	service.Seed(ctx)
//
//	// 4. Assign and check
//	alice := grantkit.NewPrincipal("user", "17")
//	ok, _ := service.AssignRole(ctx, alice, grantkit.RoleBySlug("admin-root"), nil)
//	ok, _ = service.HasRole(ctx, alice, "admin-root")
//	ok, _ = service.HasPermission(ctx, alice, grantkit.PermissionByName("assign roles"))
//
// # Checking Through a Giver
//
// Register each owner type with a lookup function, then pass the giver to the
// permission check. Unregistered types and missing entities fail closed.
//
//	service.Givers().Register("team", func(ctx context.Context, id string) (bool, error) {
//	    return teamStore.Exists(ctx, id)
//	})
//
//	ok, _ := service.HasPermissionTo(ctx, alice, grantkit.PermissionBySlug("invite-member"),
//	    grantkit.NewGiver("team", "7"))
//
// Givers may also arrive as "type:id" tokens from a request path:
//
//	if giver, ok := grantkit.ParseGiver("team:7"); ok {
//	    allowed, _ := service.HasPermissionTo(ctx, alice, perm, &giver)
//	}
//
// # Expiry and Revocation
//
// Grants may carry an expiry. Assigning with a past expiry is rejected.
// Revocation is soft by default (the grant's expiry is set, so the grant row
// and its history remain); detaching removes the rows and is idempotent.
//
//	in24h := time.Now().Add(24 * time.Hour)
//	service.AssignRole(ctx, alice, grantkit.RoleBySlug("admin-basic"), &in24h)
//	service.RevokeRoleAt(ctx, alice, grantkit.RoleBySlug("admin-basic"), nil) // expire now
//	service.DetachRoles(ctx, alice, nil, nil)                                 // hard-remove
//
// # Caching
//
// Resolution results are memoized per principal (and per giver, plus one
// global permission-to-roles index) with a configurable TTL. Every mutation
// invalidates the affected keys after the store commit. The cache is never a
// correctness dependency: when it is disabled, unavailable or erroring,
// resolution falls back to querying the store directly. Default-allow is
// never a failure mode.
//
// # Error Handling
//
// Expected outcomes (already granted, nothing to revoke, unresolvable
// identifiers, unregistered giver types) are boolean results, not errors.
// Only infrastructure failures (store unreachable, failed writes) surface as
// errors, wrapped with dbkit's chainable error context.
package grantkit
