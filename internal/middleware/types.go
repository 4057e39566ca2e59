package middleware

import "github.com/terraconstructs/fhirapi/internal/authz"

// TokenVerifier turns a bearer token into the caller's security context.
// *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(token string) (*authz.SecurityContext, error)
}

// PublicPaths are served without a bearer token.
var PublicPaths = []string{"/health", "/metrics", "/auth/login"}
