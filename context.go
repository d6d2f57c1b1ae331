package grantkit

import (
	"context"
)

// Context keys for GrantKit values.
type contextKey string

const (
	contextKeyPrincipal contextKey = "grantkit:principal"
	contextKeyGiver     contextKey = "grantkit:giver"
	contextKeyChecker   contextKey = "grantkit:checker"
)

// WithPrincipal adds the principal being checked to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// GetPrincipal retrieves the principal from context.
// Returns the zero value and false if not set.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	if v := ctx.Value(contextKeyPrincipal); v != nil {
		if p, ok := v.(Principal); ok {
			return p, true
		}
	}
	return Principal{}, false
}

// MustGetPrincipal retrieves the principal from context.
// Panics if not set.
func MustGetPrincipal(ctx context.Context) Principal {
	p, ok := GetPrincipal(ctx)
	if !ok {
		panic("grantkit: principal not in context")
	}
	return p
}

// WithGiver adds the giver the current request acts through to the context.
// Typically set by routing once the owning entity (a team, an organization)
// is known.
func WithGiver(ctx context.Context, giver Giver) context.Context {
	return context.WithValue(ctx, contextKeyGiver, giver)
}

// GetGiver retrieves the giver from context.
// Returns the zero value and false if not set.
func GetGiver(ctx context.Context) (Giver, bool) {
	if v := ctx.Value(contextKeyGiver); v != nil {
		if g, ok := v.(Giver); ok {
			return g, true
		}
	}
	return Giver{}, false
}

// WithChecker adds a Checker to the context.
// This is set once per request and retrieved in handlers.
func WithChecker(ctx context.Context, checker *Checker) context.Context {
	return context.WithValue(ctx, contextKeyChecker, checker)
}

// GetChecker retrieves the Checker from context.
// Returns nil if not set.
func GetChecker(ctx context.Context) *Checker {
	if v := ctx.Value(contextKeyChecker); v != nil {
		if c, ok := v.(*Checker); ok {
			return c
		}
	}
	return nil
}

// FromContext retrieves the Checker from context.
// Alias for GetChecker for convenience.
func FromContext(ctx context.Context) *Checker {
	return GetChecker(ctx)
}
