// Package auth carries the verified caller identity through a request.
package auth

import "context"

type contextKey struct{}

// Identity is what the auth gate establishes about a caller: the account
// the bearer token belongs to, confirmed to still exist.
type Identity struct {
	AccountID string
	Email     string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
