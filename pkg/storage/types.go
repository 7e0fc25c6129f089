package storage

import "time"

// Outcome labels recorded on completion logs and metrics.
const (
	StatusOK                = "ok"
	StatusBlocked           = "blocked"
	StatusRateLimited       = "rate_limited"
	StatusQuotaExceeded     = "quota_exceeded"
	StatusCredentialInvalid = "credential_invalid"
	StatusUnavailable       = "unavailable"
	StatusError             = "error"
)

// CompletionLog captures one completion request for analytics. The error
// field holds internal detail that is never surfaced to callers.
type CompletionLog struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Identity  string        `json:"identity"`
	UserID    string        `json:"user_id,omitempty"`
	Model     string        `json:"model,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Tokens    int           `json:"tokens,omitempty"`
	CostUSD   float64       `json:"cost_usd,omitempty"`
	Duration  time.Duration `json:"duration"`
	Status    string        `json:"status"`
	Blocked   bool          `json:"blocked,omitempty"`
	Error     string        `json:"error,omitempty"`
}
