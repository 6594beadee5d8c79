package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/agentpay/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и шлюз, и консоль
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type principalKey struct{}

// WithPrincipal кладет адрес аутентифицированного кошелька в контекст.
func WithPrincipal(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, principalKey{}, address)
}

// PrincipalFromContext адрес (lowercase) из проверенного токена.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(principalKey{}).(string)
	return addr, ok && addr != ""
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Subject)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": "UNAUTHORIZED"})
}
