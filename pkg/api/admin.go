package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/policy"
	"github.com/parleyhq/parley/pkg/storage"
	"github.com/parleyhq/parley/pkg/store"
)

// AdminAPI provides the operator endpoints for user management, usage
// analytics, and policy inspection.
type AdminAPI struct {
	users    store.Store
	logs     storage.Store
	policy   policy.Source
	cfgStore *config.Store
}

func NewAdminAPI(users store.Store, logs storage.Store, pol policy.Source, cfgStore *config.Store) *AdminAPI {
	return &AdminAPI{
		users:    users,
		logs:     logs,
		policy:   pol,
		cfgStore: cfgStore,
	}
}

func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/users", api.authenticate(api.handleListUsers))
	mux.HandleFunc("/admin/users/create", api.authenticate(api.handleCreateUser))
	mux.HandleFunc("/admin/users/update", api.authenticate(api.handleUpdateUser))

	mux.HandleFunc("/admin/usage", api.authenticate(api.handleUsageStats))
	mux.HandleFunc("/admin/costs", api.authenticate(api.handleCostStats))
	mux.HandleFunc("/admin/logs", api.authenticate(api.handleLogs))
	mux.HandleFunc("/admin/policy", api.authenticate(api.handlePolicy))

	mux.HandleFunc("/admin/health", api.handleHealth)
}

// authenticate checks the admin key header. The key is read through the
// config store so a rotation takes effect without a restart.
func (api *AdminAPI) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminKey := api.cfgStore.Get().Auth.AdminKey
		if adminKey == "" || r.Header.Get("X-Admin-Key") != adminKey {
			respondJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "invalid admin key",
			})
			return
		}
		next(w, r)
	}
}

func (api *AdminAPI) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	users, err := api.users.ListUsers(ctx)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to list users: %v", err),
		})
		return
	}

	for _, u := range users {
		u.Settings.PersonalAPIKey = redactKey(u.Settings.PersonalAPIKey)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (api *AdminAPI) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID                string `json:"id"`
		Plan              string `json:"plan"`
		UsePersonalAPIKey bool   `json:"use_personal_api_key"`
		PersonalAPIKey    string `json:"personal_api_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Plan == "" {
		req.Plan = store.PlanFree
	}
	if req.Plan != store.PlanFree && req.Plan != store.PlanPro {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown plan %q", req.Plan),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := api.users.GetUser(ctx, req.ID); err == nil {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("user %q already exists", req.ID),
		})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("user lookup failed: %v", err),
		})
		return
	}

	u := &store.User{
		ID:     req.ID,
		Plan:   req.Plan,
		Status: store.StatusActive,
		Settings: store.Settings{
			UsePersonalAPIKey: req.UsePersonalAPIKey,
			PersonalAPIKey:    req.PersonalAPIKey,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := api.users.PutUser(ctx, u); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to create user: %v", err),
		})
		return
	}

	u.Settings.PersonalAPIKey = redactKey(u.Settings.PersonalAPIKey)
	respondJSON(w, http.StatusCreated, u)
}

func (api *AdminAPI) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID                string  `json:"id"`
		Plan              *string `json:"plan,omitempty"`
		Status            *string `json:"status,omitempty"`
		UsePersonalAPIKey *bool   `json:"use_personal_api_key,omitempty"`
		PersonalAPIKey    *string `json:"personal_api_key,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := api.users.GetUser(ctx, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("user %q not found", req.ID),
		})
		return
	} else if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("user lookup failed: %v", err),
		})
		return
	}

	if req.Plan != nil {
		if *req.Plan != store.PlanFree && *req.Plan != store.PlanPro {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown plan %q", *req.Plan),
			})
			return
		}
		u.Plan = *req.Plan
	}
	if req.Status != nil {
		if *req.Status != store.StatusActive && *req.Status != store.StatusSuspended {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown status %q", *req.Status),
			})
			return
		}
		u.Status = *req.Status
	}
	if req.UsePersonalAPIKey != nil {
		u.Settings.UsePersonalAPIKey = *req.UsePersonalAPIKey
	}
	if req.PersonalAPIKey != nil {
		u.Settings.PersonalAPIKey = *req.PersonalAPIKey
	}

	if err := api.users.PutUser(ctx, u); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to update user: %v", err),
		})
		return
	}

	u.Settings.PersonalAPIKey = redactKey(u.Settings.PersonalAPIKey)
	respondJSON(w, http.StatusOK, u)
}

func (api *AdminAPI) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.logs == nil {
		respondJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "completion logging is disabled",
		})
		return
	}

	userID := r.URL.Query().Get("user_id")
	from, to := parseTimeRange(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := api.logs.GetUsageStats(ctx, userID, from, to)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to get usage stats: %v", err),
		})
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (api *AdminAPI) handleCostStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.logs == nil {
		respondJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "completion logging is disabled",
		})
		return
	}

	userID := r.URL.Query().Get("user_id")
	from, to := parseTimeRange(r)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := api.logs.GetCostStats(ctx, userID, from, to)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to get cost stats: %v", err),
		})
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (api *AdminAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if api.logs == nil {
		respondJSON(w, http.StatusNotImplemented, map[string]string{
			"error": "completion logging is disabled",
		})
		return
	}

	from, to := parseTimeRange(r)
	filters := storage.LogFilters{
		UserID:   r.URL.Query().Get("user_id"),
		Model:    r.URL.Query().Get("model"),
		Status:   r.URL.Query().Get("status"),
		Provider: r.URL.Query().Get("provider"),
		From:     from,
		To:       to,
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &filters.Limit)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		fmt.Sscanf(offsetStr, "%d", &filters.Offset)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logs, err := api.logs.ListCompletionLogs(ctx, filters)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("failed to list logs: %v", err),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// handlePolicy reports the policy currently in effect, after hot reload.
func (api *AdminAPI) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pol, err := api.policy.Get(r.Context())
	if err != nil || pol == nil {
		pol = policy.Default()
	}
	respondJSON(w, http.StatusOK, pol)
}

func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := api.users.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func parseTimeRange(r *http.Request) (time.Time, time.Time) {
	from := time.Now().Add(-24 * time.Hour)
	to := time.Now()

	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}

func redactKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
