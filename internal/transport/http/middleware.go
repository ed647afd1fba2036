package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	jwttoken "olocus/internal/jwt_token"
	"olocus/pkg/domain"
	dErrors "olocus/pkg/domain-errors"
)

// TokenValidator validates bearer tokens presented to the API.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwttoken.Claims, error)
}

type contextKeyDID struct{}
type contextKeyChainID struct{}

// GetDID retrieves the authenticated device DID from the context.
func GetDID(ctx context.Context) domain.DID {
	did, ok := ctx.Value(contextKeyDID{}).(domain.DID)
	if !ok {
		return ""
	}
	return did
}

// GetChainID retrieves the authenticated chain ID from the context.
func GetChainID(ctx context.Context) domain.ChainID {
	chainID, ok := ctx.Value(contextKeyChainID{}).(domain.ChainID)
	if !ok {
		return domain.ChainID{}
	}
	return chainID
}

// RequireAuth authenticates requests with a bearer token and stashes the
// caller's DID and chain ID in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing token", "path", r.URL.Path)
				writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"path", r.URL.Path, "error", err)
				writeError(w, err)
				return
			}

			chainID, err := domain.ParseChainID(claims.ChainID)
			if err != nil {
				writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims"))
				return
			}

			ctx = context.WithValue(ctx, contextKeyDID{}, domain.DID(claims.DID))
			ctx = context.WithValue(ctx, contextKeyChainID{}, chainID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
