package grantkit

import (
	"time"

	"github.com/fernandezvara/dbkit"
)

// Service is the authorization engine: resolution, mutation and cache
// invalidation over one backing store.
//
// The service is request-scoped and stateless between calls except for the
// external cache and the store. Checks may run concurrently; mutations wrap
// their multi-step writes in a transaction and invalidate the cache only
// after the store commit, so a resolver that misses the cache always reads
// post-mutation state.
//
// Error Handling:
// Expected outcomes (already granted, nothing to revoke, unresolvable
// identifiers) are boolean results. Store failures carry dbkit's chainable
// error context:
//
//	ok, err := service.AssignRole(ctx, principal, role, nil)
//	if err != nil {
//	    // infrastructure failure: store unreachable, write failed
//	    var dbErr *dbkit.Error
//	    if errors.As(err, &dbErr) {
//	        fmt.Printf("operation: %s, table: %s\n", dbErr.Operation, dbErr.Table)
//	    }
//	}
//	if !ok {
//	    // guard failure: already granted, unresolvable ref, past expiry
//	}
type Service struct {
	db        dbkit.IDB
	cache     Cache
	config    Config
	givers    *GiverRegistry
	txMonitor *transactionMonitor

	// now is the clock every validity decision reads. Swappable in tests.
	now func() time.Time
}

// NewService creates a GrantKit service. A nil cache behaves like caching
// disabled.
//
// Example:
//
//	db, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := grantkit.NewService(db, grantkit.NewRedisCache(rdb, ""), grantkit.DefaultConfig())
func NewService(db dbkit.IDB, cache Cache, config Config) *Service {
	if cache == nil {
		cache = nopCache{}
	}
	return &Service{
		db:        db,
		cache:     cache,
		config:    config.normalize(),
		givers:    NewGiverRegistry(),
		txMonitor: newTransactionMonitor(),
		now:       time.Now,
	}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config {
	return s.config
}

// Givers returns the giver registry. Hosts register each owner type's
// lookup at startup.
func (s *Service) Givers() *GiverRegistry {
	return s.givers
}
