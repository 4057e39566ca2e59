package auth

import (
	"context"

	"github.com/terraconstructs/fhirapi/internal/authz"
)

type securityContextKey struct{}

// WithSecurityContext stores the authenticated caller on the context for downstream consumers.
func WithSecurityContext(ctx context.Context, sc *authz.SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFrom retrieves the authenticated caller from the context.
func SecurityContextFrom(ctx context.Context) (*authz.SecurityContext, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(*authz.SecurityContext)
	return sc, ok && sc != nil
}

type tokenHashContextKey struct{}

// WithTokenHash records the hash of the bearer token used for the request.
func WithTokenHash(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, tokenHashContextKey{}, hash)
}

// TokenHashFromContext returns the SHA256 hash of the bearer token extracted during verification.
func TokenHashFromContext(ctx context.Context) (string, bool) {
	hash, ok := ctx.Value(tokenHashContextKey{}).(string)
	return hash, ok
}
