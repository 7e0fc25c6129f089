// Package store persists users and their usage records. The completion core
// treats it as a collaborator with a narrow contract: user lookup plus an
// atomic usage upsert.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested user does not exist.
var ErrNotFound = errors.New("user not found")

// Plan names. Paid plans get the higher fixed daily ceiling.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// User statuses. Only active users may request completions; the check is
// enforced by the identity middleware, not re-checked by the core.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// DayFormat is the calendar-day marker used by UsageRecord.LastRequestDate.
const DayFormat = "2006-01-02"

// Settings are the per-user provider preferences.
type Settings struct {
	UsePersonalAPIKey bool   `json:"use_personal_api_key"`
	PersonalAPIKey    string `json:"personal_api_key,omitempty"`
}

// UsageRecord tracks cumulative usage. RequestsToday is only meaningful when
// LastRequestDate equals the current calendar day.
type UsageRecord struct {
	TokensUsed      int64  `json:"tokens_used"`
	RequestsToday   int    `json:"requests_today"`
	LastRequestDate string `json:"last_request_date,omitempty"`
}

// RequestsOn returns the request count valid for the given day, treating a
// stale LastRequestDate as zero.
func (r UsageRecord) RequestsOn(day time.Time) int {
	if r.LastRequestDate != day.Format(DayFormat) {
		return 0
	}
	return r.RequestsToday
}

// User is a chat application account.
type User struct {
	ID        string      `json:"id"`
	Plan      string      `json:"plan"`
	Status    string      `json:"status"`
	Settings  Settings    `json:"settings"`
	Usage     UsageRecord `json:"usage"`
	CreatedAt time.Time   `json:"created_at"`
}

// Paid reports whether the user is on a paid plan.
func (u *User) Paid() bool {
	return u.Plan != "" && u.Plan != PlanFree
}

// Store is the persistence contract consumed by the completion core.
// UpdateUsage must behave as an atomic upsert of the usage record; callers
// that cannot rely on that serialize updates per identity themselves.
type Store interface {
	GetUser(ctx context.Context, id string) (*User, error)
	PutUser(ctx context.Context, u *User) error
	UpdateUsage(ctx context.Context, id string, rec UsageRecord) error
	ListUsers(ctx context.Context) ([]*User, error)
	Ping(ctx context.Context) error
}
