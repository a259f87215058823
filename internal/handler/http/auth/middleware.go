package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"outbound-relay/internal/handler/http/respond"
)

type ctxKey string

const ctxUser ctxKey = "user"

// UserFromContext returns the authenticated admin user, or "".
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(ctxUser).(string); ok {
		return user
	}
	return ""
}

// RequireAdmin wraps a handler so it only serves requests carrying a valid
// admin JWT. Everything else on the API stays unauthenticated; only the
// circuit-reset surface is destructive enough to gate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := []byte(os.Getenv("JWT_SECRET"))
		user, role, err := validateJWT(r.Header.Get("Authorization"), secret)
		if err != nil {
			respond.SafeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized: %w", err))
			return
		}
		if role != "admin" {
			respond.SafeError(w, http.StatusForbidden, errors.New("forbidden"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateJWT(authz string, secret []byte) (string, string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", "", errors.New("missing bearer token")
	}
	tokenString := strings.TrimPrefix(authz, prefix)
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return "", "", errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid claims")
	}
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) < time.Now().Unix() {
		return "", "", errors.New("token expired")
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return "", "", errors.New("invalid sub claim")
	}
	role, ok := claims["role"].(string)
	if !ok {
		return "", "", errors.New("invalid role claim")
	}
	return sub, role, nil
}
