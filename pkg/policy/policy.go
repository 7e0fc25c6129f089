// Package policy exposes the operator-controlled moderation and limits
// policy. The policy store is externally owned; this package only reads it.
package policy

import (
	"context"

	"github.com/parleyhq/parley/pkg/config"
)

// Policy is the snapshot consumed by the completion core. It is fetched
// fresh on every request, never cached by callers, so an operator edit takes
// effect on the next request.
type Policy struct {
	BlockedKeywords     []string `json:"blocked_keywords"`
	MaxResponseLength   int      `json:"max_response_length"`
	BlockHarmfulContent bool     `json:"block_harmful_content"`
	RequestsPerMinute   int      `json:"requests_per_minute"`
	RequestsPerDay      int      `json:"requests_per_day"`
	DefaultModel        string   `json:"default_model"`
	DefaultSystemPrompt string   `json:"default_system_prompt"`
}

// Defaults applied when a field is unset or the source is unreachable.
const (
	DefaultModel             = "gpt-4o-mini"
	DefaultRequestsPerMinute = 10
	DefaultRequestsPerDay    = 50
	DefaultMaxResponseLength = 4000
	DefaultSystemPrompt      = "You are a helpful assistant."
)

// Source fetches the current policy. Implementations must be safe for
// concurrent use.
type Source interface {
	Get(ctx context.Context) (*Policy, error)
}

// ConfigSource reads the policy from the hot-reloading config store.
type ConfigSource struct {
	store *config.Store
}

func NewConfigSource(store *config.Store) *ConfigSource {
	return &ConfigSource{store: store}
}

func (s *ConfigSource) Get(ctx context.Context) (*Policy, error) {
	cfg := s.store.Get()
	if cfg == nil {
		return Default(), nil
	}

	p := &Policy{
		BlockedKeywords:     cfg.Policy.BlockedKeywords,
		MaxResponseLength:   cfg.Policy.MaxResponseLength,
		BlockHarmfulContent: cfg.Policy.BlockHarmfulContent,
		RequestsPerMinute:   cfg.Policy.RequestsPerMinute,
		RequestsPerDay:      cfg.Policy.RequestsPerDay,
		DefaultModel:        cfg.Policy.DefaultModel,
		DefaultSystemPrompt: cfg.Policy.DefaultSystemPrompt,
	}
	applyDefaults(p)
	return p, nil
}

// Default returns the built-in policy used when no source is reachable.
func Default() *Policy {
	p := &Policy{}
	applyDefaults(p)
	return p
}

func applyDefaults(p *Policy) {
	if p.MaxResponseLength <= 0 {
		p.MaxResponseLength = DefaultMaxResponseLength
	}
	if p.RequestsPerMinute <= 0 {
		p.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if p.RequestsPerDay <= 0 {
		p.RequestsPerDay = DefaultRequestsPerDay
	}
	if p.DefaultModel == "" {
		p.DefaultModel = DefaultModel
	}
	if p.DefaultSystemPrompt == "" {
		p.DefaultSystemPrompt = DefaultSystemPrompt
	}
}

// StaticSource always returns the same policy. Used in tests.
type StaticSource struct {
	Policy *Policy
	Err    error
}

func (s *StaticSource) Get(ctx context.Context) (*Policy, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Policy, nil
}
