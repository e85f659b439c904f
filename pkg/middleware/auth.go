package middleware

import (
	"errors"
	"net/http"
	"strings"

	"credential-service/internal/data/repository"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

// Auth validates the bearer JWT, reloads the user it names and rejects
// tokens whose account is gone or not yet verified.
func Auth(issuer token.Issuer, userRepo repository.UserRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.ResponseUnauthorized(w, "Missing authorization token")
				return
			}

			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				utils.ResponseUnauthorized(w, "Invalid token format. Use: Bearer <token>")
				return
			}

			claims, err := issuer.Verify(tokenString)
			if err != nil {
				if errors.Is(err, token.ErrTokenExpired) {
					utils.ResponseUnauthorized(w, "Token expired")
					return
				}
				logger.Warn("Rejected token", zap.Error(err), zap.String("path", r.URL.Path))
				utils.ResponseUnauthorized(w, "Invalid token")
				return
			}

			user, err := userRepo.FindByID(r.Context(), claims.UserID)
			if err != nil {
				logger.Error("Failed to load user for token",
					zap.Error(err),
					zap.Int64("user_id", claims.UserID))
				utils.ResponseInternalError(w, "Internal server error")
				return
			}

			if user == nil || !user.IsVerified {
				logger.Warn("Token for missing or unverified user", zap.Int64("user_id", claims.UserID))
				utils.ResponseUnauthorized(w, "Account not found or not verified")
				return
			}

			ctx := utils.SetUserContext(r.Context(), user.ID, user.Email, string(user.Role))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
