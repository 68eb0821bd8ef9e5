package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/dealsync/internal/server/handlers"
	"github.com/iudanet/dealsync/internal/server/jwt"
	"github.com/iudanet/dealsync/pkg/api"
)

// TokenValidator parses access tokens. *jwt.Service implements it.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware создает middleware для проверки JWT токена.
// Организация и пользователь из токена попадают в контекст запроса.
func AuthMiddleware(logger *slog.Logger, validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем токен из заголовка Authorization
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Missing Authorization header")
				handlers.SendError(logger, w, "missing token", api.CodeUnauthorized, http.StatusUnauthorized)
				return
			}

			// Ожидаем формат: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				handlers.SendError(logger, w, "invalid token format", api.CodeUnauthorized, http.StatusUnauthorized)
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				logger.WarnContext(r.Context(), "Invalid access token", "error", err)
				handlers.SendError(logger, w, "invalid token", api.CodeUnauthorized, http.StatusUnauthorized)
				return
			}

			ctx := handlers.WithIdentity(r.Context(), claims.TenantID, claims.UserID)
			if info := requestInfoFrom(ctx); info != nil {
				info.tenantID = claims.TenantID
				info.userID = claims.UserID
			}

			logger.DebugContext(ctx, "Request authenticated", "tenant_id", claims.TenantID, "user_id", claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
