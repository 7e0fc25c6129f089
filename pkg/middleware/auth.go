package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/pkg/completion"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/store"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identify resolves the caller to a completion.Identity and stores it on the
// request context. Callers with a valid bearer token are resolved to their
// user record; everyone else is tracked by network address so the
// per-identity limiter still applies to unauthenticated traffic.
func Identify(cfgStore *config.Store, users store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				id := completion.Identity{Key: addressKey(r)}
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				respondJSONError(w, "invalid Authorization format, use: Bearer <token>", http.StatusUnauthorized)
				return
			}

			cfg := cfgStore.Get()
			userID, err := parseSubject(parts[1], cfg.Auth.JWTSigningKey)
			if err != nil {
				respondJSONError(w, "invalid credentials", http.StatusUnauthorized)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			u, err := users.GetUser(ctx, userID)
			cancel()
			switch {
			case errors.Is(err, store.ErrNotFound):
				respondJSONError(w, "unknown user", http.StatusUnauthorized)
				return
			case err != nil:
				logrus.WithError(err).Error("user lookup failed")
				respondJSONError(w, "user lookup failed", http.StatusInternalServerError)
				return
			}

			if u.Status != store.StatusActive {
				respondJSONError(w, "account is suspended", http.StatusUnauthorized)
				return
			}

			id := completion.Identity{Key: u.ID, User: u}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
		})
	}
}

func parseSubject(tokenStr, signingKey string) (string, error) {
	if signingKey == "" {
		return "", errors.New("auth is not configured")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(signingKey), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// addressKey keys unauthenticated callers by their network address so the
// rate limiter can still tell them apart.
func addressKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return completion.AnonymousKey
	}
	return "ip:" + host
}

func withIdentity(ctx context.Context, id completion.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the caller identity placed by Identify.
func IdentityFromContext(ctx context.Context) (completion.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(completion.Identity)
	return id, ok
}
