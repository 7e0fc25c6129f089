// Package api exposes the public completion endpoint and the operator admin
// surface over plain net/http.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/parleyhq/parley/pkg/account"
	"github.com/parleyhq/parley/pkg/completion"
	"github.com/parleyhq/parley/pkg/limit"
	"github.com/parleyhq/parley/pkg/middleware"
	"github.com/parleyhq/parley/pkg/provider"
)

// CompletionAPI serves the chat completion endpoint.
type CompletionAPI struct {
	orch *completion.Orchestrator
}

func NewCompletionAPI(orch *completion.Orchestrator) *CompletionAPI {
	return &CompletionAPI{orch: orch}
}

func (api *CompletionAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/chat/completions", api.handleCompletion)
}

type completionRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

func (api *CompletionAPI) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		id = completion.Identity{Key: completion.AnonymousKey}
	}

	var body completionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}
	if len(body.Messages) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "messages must not be empty",
		})
		return
	}

	req := completion.Request{
		Model:        body.Model,
		Temperature:  body.Temperature,
		MaxTokens:    body.MaxTokens,
		SystemPrompt: body.SystemPrompt,
	}
	for _, m := range body.Messages {
		req.Messages = append(req.Messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	res, err := api.orch.Complete(r.Context(), id, req)
	if err != nil {
		writeCompletionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// writeCompletionError maps pipeline errors onto HTTP responses. Upstream
// failure detail stays in the logs; callers get a generic message.
func writeCompletionError(w http.ResponseWriter, err error) {
	var rl *limit.RateLimitedError
	var qe *account.QuotaExceededError

	switch {
	case errors.As(err, &rl):
		retryAfter := int(time.Until(rl.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":    "rate limit exceeded",
			"limit":    rl.Limit,
			"reset_at": rl.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &qe):
		respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": "daily request quota exceeded",
			"limit": qe.Limit,
			"used":  qe.Used,
		})
	case errors.Is(err, provider.ErrCredentialInvalid):
		respondJSON(w, http.StatusBadGateway, map[string]string{
			"error": "the configured API key was rejected by the provider",
		})
	case errors.Is(err, provider.ErrUnavailable):
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "the completion service is temporarily unavailable",
		})
	default:
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
