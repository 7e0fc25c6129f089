package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleyhq/parley/pkg/completion"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/store"
)

const testSigningKey = "test-signing-key"

func authFixture(t *testing.T) (*store.MemoryStore, http.Handler, *completion.Identity) {
	t.Helper()

	st := store.NewMemoryStore()
	cfgStore := config.NewStatic(&config.Config{
		Auth: config.AuthConfig{JWTSigningKey: testSigningKey},
	})

	var captured completion.Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("identity missing from context")
		}
		captured = id
		w.WriteHeader(http.StatusOK)
	})

	return st, Identify(cfgStore, st)(inner), &captured
}

func signToken(t *testing.T, subject, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestIdentify_ValidToken(t *testing.T) {
	t.Parallel()

	st, handler, captured := authFixture(t)
	if err := st.PutUser(context.Background(), &store.User{
		ID: "u1", Plan: store.PlanFree, Status: store.StatusActive,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", testSigningKey))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.User == nil || captured.User.ID != "u1" || captured.Key != "u1" {
		t.Fatalf("unexpected identity %+v", captured)
	}
}

func TestIdentify_NoTokenFallsBackToAddress(t *testing.T) {
	t.Parallel()

	_, handler, captured := authFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.Key != "ip:203.0.113.7" || captured.User != nil {
		t.Fatalf("unexpected identity %+v", captured)
	}
}

func TestIdentify_BadSignature(t *testing.T) {
	t.Parallel()

	_, handler, _ := authFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", "wrong-key"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentify_UnknownUser(t *testing.T) {
	t.Parallel()

	_, handler, _ := authFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "nobody", testSigningKey))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIdentify_SuspendedUser(t *testing.T) {
	t.Parallel()

	st, handler, _ := authFixture(t)
	if err := st.PutUser(context.Background(), &store.User{
		ID: "u1", Plan: store.PlanPro, Status: store.StatusSuspended,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "u1", testSigningKey))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for suspended user, got %d", rec.Code)
	}
}

func TestIdentify_MalformedHeader(t *testing.T) {
	t.Parallel()

	_, handler, _ := authFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGuard_LocalLimiter(t *testing.T) {
	t.Parallel()

	cfgStore := config.NewStatic(&config.Config{
		Guard: config.GuardConfig{Enabled: true, RPS: 1, Burst: 2},
	})

	handler := NewGuard(cfgStore, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code == http.StatusOK {
			allowed++
		} else if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if allowed > 3 {
		t.Fatalf("burst of 2 admitted %d requests", allowed)
	}
}

func TestGuard_Disabled(t *testing.T) {
	t.Parallel()

	cfgStore := config.NewStatic(&config.Config{
		Guard: config.GuardConfig{Enabled: false, RPS: 0, Burst: 0},
	})

	handler := NewGuard(cfgStore, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("disabled guard rejected request: %d", rec.Code)
		}
	}
}
