package middleware

import (
	"net/http"
	"slices"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// NewAuthnMiddleware requires a valid bearer token on every non-public
// route and stores the resulting security context in the request context.
// Preflight requests pass through so CORS can answer them.
func NewAuthnMiddleware(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || slices.Contains(PublicPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeUnauthenticated(w, fhirerr.Unauthenticated("Missing or malformed Authorization header"))
				return
			}

			sc, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				writeUnauthenticated(w, err)
				return
			}

			ctx := auth.WithSecurityContext(r.Context(), sc)
			ctx = auth.WithTokenHash(ctx, auth.HashToken(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter, err error) {
	if fhirerr.KindOf(err) != fhirerr.KindUnauthenticated {
		err = fhirerr.Unauthenticated("%v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="fhirapi"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   fhirerr.KindUnauthenticated.Code(),
		"message": err.Error(),
	})
}
