package middleware

import (
	"context"
	"net/http"
	"strings"

	"techstore/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	IsAdminKey contextKey = "is_admin"
)

// TokenVerifier is the slice of the auth service the gate needs
type TokenVerifier interface {
	VerifyToken(tokenString string) (*service.Claims, error)
}

// AuthMiddleware extracts and verifies the bearer token and attaches the
// decoded claims to the request context. It only authenticates; whether
// the caller is allowed to perform the operation is the handler's check.
func AuthMiddleware(tokens TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			// Check for Bearer token format
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := tokens.VerifyToken(parts[1])
			if err != nil {
				logger.Debug("Token verification failed", zap.Error(err))
				RespondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			// Add decoded claims to context
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, IsAdminKey, claims.IsAdmin)

			logger.Debug("User authenticated",
				zap.Int64("user_id", claims.UserID),
				zap.Bool("is_admin", claims.IsAdmin),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts the authenticated user id from request context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetIsAdmin extracts the admin flag from request context
func GetIsAdmin(ctx context.Context) (bool, bool) {
	isAdmin, ok := ctx.Value(IsAdminKey).(bool)
	return isAdmin, ok
}
