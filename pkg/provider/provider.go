// Package provider abstracts upstream completion execution paths and picks
// one per request: personal credential, operator credential, or the
// free-tier bridge.
package provider

import (
	"context"
	"errors"
)

// Roles accepted in a completion request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrCredentialInvalid indicates the resolved credential was rejected by the
// upstream provider. The request is not retried with the same credential.
var ErrCredentialInvalid = errors.New("provider credential rejected")

// ErrUnavailable indicates a transient upstream failure. Only the generic
// message is surfaced; the underlying cause is logged.
var ErrUnavailable = errors.New("provider unavailable")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request after policy defaults are applied.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
}

// Result is a raw completion before post-filtering. Cost is computed by the
// orchestrator from its own price table, never taken from the upstream.
type Result struct {
	Content  string
	Tokens   int
	Provider string
	FreeTier bool
}

// Provider executes a completion request against one upstream path.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Result, error)
}
