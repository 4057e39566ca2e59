package middleware

import (
	"context"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/terraconstructs/fhirapi/internal/auth"
	"github.com/terraconstructs/fhirapi/internal/fhirerr"
)

// NewAuthnInterceptor is the Connect counterpart of NewAuthnMiddleware. Every
// procedure requires a valid bearer token.
func NewAuthnInterceptor(verifier TokenVerifier, logger *zap.Logger) connect.UnaryInterceptorFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			// A context set by the HTTP middleware is reused.
			if _, ok := auth.SecurityContextFrom(ctx); ok {
				return next(ctx, req)
			}

			token, err := auth.BearerToken(req.Header().Get("Authorization"))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated,
					fhirerr.Unauthenticated("Missing or malformed Authorization header"))
			}

			sc, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected", zap.String("procedure", req.Spec().Procedure), zap.Error(err))
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			ctx = auth.WithSecurityContext(ctx, sc)
			ctx = auth.WithTokenHash(ctx, auth.HashToken(token))
			return next(ctx, req)
		}
	}
}
