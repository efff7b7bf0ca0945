package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
)

type contextKey string

const UserContextKey contextKey = "user"

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "auth.Authenticate"

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, op, "missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, op, "invalid authorization header format"))
			return
		}

		claims, err := ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			apierr.EncodeHTTP(w, apierr.New(apierr.EUnauthenticated, op, "invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
