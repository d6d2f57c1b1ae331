package grantkit

import (
	"context"
	"sync"
	"time"
)

// Config carries every policy knob the engine reads. It is passed to
// NewService once; nothing is read from globals afterwards.
type Config struct {
	// CacheEnabled turns resolution caching on. When off, every check reads
	// the store directly.
	CacheEnabled bool

	// CacheTTL bounds how long a cached snapshot may be served. Mutations
	// invalidate eagerly; the TTL only covers out-of-band store changes.
	CacheTTL time.Duration

	// AllowSharedRoles makes ownerless roles implicitly available to every
	// giver of their type when resolving through a giver.
	AllowSharedRoles bool

	// DefaultType is the role/permission type tag used when none is given,
	// and the type targeted by bulk revoke/detach without an explicit set.
	DefaultType string

	// Permitables maps category tags to display names ("admin" -> "Admin").
	// Informational; hosts use it to render role categories.
	Permitables map[string]string

	// PivotColumns lists the extra columns carried on the principal-role
	// pivot, in order. The engine writes them; hosts that extend the table
	// can append their own.
	PivotColumns []string
}

// DefaultConfig returns the stock configuration: caching on with a one hour
// TTL, shared roles off, "admin" as the default type.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:     true,
		CacheTTL:         time.Hour,
		AllowSharedRoles: false,
		DefaultType:      "admin",
		Permitables: map[string]string{
			"admin": "Admin",
		},
		PivotColumns: []string{"expires_at", "permitable_type", "permitable_id"},
	}
}

// normalize fills zero values with defaults so a partially filled Config
// behaves like DefaultConfig for the unset fields.
func (c Config) normalize() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.DefaultType == "" {
		c.DefaultType = "admin"
	}
	if len(c.PivotColumns) == 0 {
		c.PivotColumns = []string{"expires_at", "permitable_type", "permitable_id"}
	}
	return c
}

// GiverLookup reports whether the giver entity with the given id exists.
// It is supplied by the host per owner type; the engine never reaches into
// host tables itself.
type GiverLookup func(ctx context.Context, id string) (bool, error)

// GiverRegistry maps giver type tags to lookup functions. Populated at
// startup; safe for concurrent reads afterwards.
type GiverRegistry struct {
	mu      sync.RWMutex
	lookups map[string]GiverLookup
}

// NewGiverRegistry creates an empty registry.
func NewGiverRegistry() *GiverRegistry {
	return &GiverRegistry{
		lookups: make(map[string]GiverLookup),
	}
}

// Register adds a lookup for a giver type tag. Re-registering a tag
// replaces the previous lookup.
func (r *GiverRegistry) Register(tag string, lookup GiverLookup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups[tag] = lookup
}

// Lookup returns the lookup for a tag, or false when the tag is not
// registered.
func (r *GiverRegistry) Lookup(tag string) (GiverLookup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lookup, ok := r.lookups[tag]
	return lookup, ok
}

// Registered reports whether a tag has a lookup.
func (r *GiverRegistry) Registered(tag string) bool {
	_, ok := r.Lookup(tag)
	return ok
}

// Tags returns all registered type tags.
func (r *GiverRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.lookups))
	for tag := range r.lookups {
		tags = append(tags, tag)
	}
	return tags
}

// resolve verifies a giver against the registry. A missing registration or
// a missing entity resolves to false; only lookup infrastructure failures
// return an error.
func (r *GiverRegistry) resolve(ctx context.Context, giver Giver) (bool, error) {
	lookup, ok := r.Lookup(giver.Type)
	if !ok {
		return false, nil
	}
	return lookup(ctx, giver.ID)
}
