// Package authctx carries the per-request Authentication Context through
// context.Context and implements the Auth Filter middleware that populates
// it from a delegation bearer token.
package authctx

import "context"

// ctxKey is an unexported type so authctx's context keys can never collide
// with another package's, even one that also happens to use a string key.
type ctxKey string

const contextKey ctxKey = "authctx"

// Context is the Authentication Context spec.md §3 describes: bound to a
// single request via context.Context, never goroutine-local or
// package-global state.
type Context struct {
	UserID              string
	Permissions         []string
	PeerServiceIdentity string
	RawToken            string
}

// HasAnyPermission reports whether the context grants at least one of the
// given permissions — the "must have at least one of {permissions}" helper
// spec.md §4.7 asks the filter to provide to handlers.
func (c Context) HasAnyPermission(required ...string) bool {
	for _, want := range required {
		for _, have := range c.Permissions {
			if have == want {
				return true
			}
		}
	}
	return false
}

// WithContext returns a new context carrying authCtx.
func WithContext(ctx context.Context, authCtx Context) context.Context {
	return context.WithValue(ctx, contextKey, authCtx)
}

// FromContext extracts the Authentication Context bound to ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	authCtx, ok := ctx.Value(contextKey).(Context)
	return authCtx, ok
}
