package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/policy"
	"github.com/parleyhq/parley/pkg/storage"
	"github.com/parleyhq/parley/pkg/store"
)

const testAdminKey = "admin-secret"

func newAdminHandler(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	cfgStore := config.NewStatic(&config.Config{
		Auth: config.AuthConfig{AdminKey: testAdminKey},
	})

	mux := http.NewServeMux()
	NewAdminAPI(st, storage.NewMemoryStore(), &policy.StaticSource{Policy: policy.Default()}, cfgStore).RegisterRoutes(mux)
	return mux, st
}

func adminRequest(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_RejectsWrongKey(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdmin_CreateAndListUsers(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	rec := adminRequest(handler, http.MethodPost, "/admin/users/create",
		`{"id":"u1","plan":"pro","use_personal_api_key":true,"personal_api_key":"sk-verysecretkey1234"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Creating the same user again conflicts.
	rec = adminRequest(handler, http.MethodPost, "/admin/users/create", `{"id":"u1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = adminRequest(handler, http.MethodGet, "/admin/users", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk-verysecretkey1234") {
		t.Fatalf("listing leaked the personal API key: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"u1"`) {
		t.Fatalf("listing missing created user: %s", rec.Body.String())
	}
}

func TestAdmin_CreateUserGeneratesID(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	rec := adminRequest(handler, http.MethodPost, "/admin/users/create", `{}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var u store.User
	if err := json.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if u.ID == "" || u.Plan != store.PlanFree || u.Status != store.StatusActive {
		t.Fatalf("unexpected created user %+v", u)
	}
}

func TestAdmin_CreateUserUnknownPlan(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	rec := adminRequest(handler, http.MethodPost, "/admin/users/create", `{"plan":"platinum"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdmin_SuspendUser(t *testing.T) {
	t.Parallel()

	handler, st := newAdminHandler(t)
	if err := st.PutUser(context.Background(), &store.User{
		ID: "u1", Plan: store.PlanFree, Status: store.StatusActive,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rec := adminRequest(handler, http.MethodPost, "/admin/users/update",
		`{"id":"u1","status":"suspended"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	u, err := st.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Status != store.StatusSuspended {
		t.Fatalf("expected suspended, got %q", u.Status)
	}
}

func TestAdmin_UpdateUnknownUser(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	rec := adminRequest(handler, http.MethodPost, "/admin/users/update", `{"id":"ghost","plan":"pro"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdmin_PolicyEndpoint(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	rec := adminRequest(handler, http.MethodGet, "/admin/policy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var pol policy.Policy
	if err := json.Unmarshal(rec.Body.Bytes(), &pol); err != nil {
		t.Fatalf("decode policy: %v", err)
	}
	if pol.RequestsPerMinute != policy.Default().RequestsPerMinute {
		t.Fatalf("unexpected policy %+v", pol)
	}
}

func TestAdmin_HealthIsUnauthenticated(t *testing.T) {
	t.Parallel()

	handler, _ := newAdminHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
