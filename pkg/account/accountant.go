// Package account enforces the per-plan daily request ceiling and keeps the
// cumulative usage record current.
package account

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/store"
)

// PaidDailyLimit is the fixed daily ceiling for paid plans. Free plans use
// the policy-configured ceiling instead.
const PaidDailyLimit = 1000

// QuotaExceededError is returned when a caller is at or above their daily
// ceiling. The quota resets at the day boundary; there is no retry time.
type QuotaExceededError struct {
	Limit int
	Used  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily request quota exceeded: %d of %d used", e.Used, e.Limit)
}

// Accountant serializes all usage-record mutations for one identity through
// a keyed mutex, closing the read-modify-write race between concurrent
// requests from the same caller.
type Accountant struct {
	store store.Store
	locks [lockCount]sync.Mutex
	now   func() time.Time
}

const lockCount = 64

func New(st store.Store) *Accountant {
	return &Accountant{store: st, now: time.Now}
}

func (a *Accountant) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &a.locks[h.Sum32()%lockCount]
}

// DailyLimit returns the ceiling that applies to the user: the fixed paid
// ceiling for paid plans, otherwise the policy-configured one.
func DailyLimit(u *store.User, policyPerDay int) int {
	if u.Paid() {
		return PaidDailyLimit
	}
	return policyPerDay
}

// CheckAndRecord performs the daily quota check and, when admitted, records
// the request immediately. Usage is accounted at admission time: a request
// that later fails at the provider still consumed quota.
func (a *Accountant) CheckAndRecord(ctx context.Context, userID string, policyPerDay int) error {
	mu := a.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	today := a.now()
	limit := DailyLimit(u, policyPerDay)
	used := u.Usage.RequestsOn(today)
	if used >= limit {
		return &QuotaExceededError{Limit: limit, Used: used}
	}

	rec := u.Usage
	day := today.Format(store.DayFormat)
	if rec.LastRequestDate == day {
		rec.RequestsToday++
	} else {
		// Day rollover: the triggering request counts as the first of the
		// new day.
		rec.RequestsToday = 1
		rec.LastRequestDate = day
	}

	return a.store.UpdateUsage(ctx, userID, rec)
}

// AddTokens adds token usage after a completed request.
func (a *Accountant) AddTokens(ctx context.Context, userID string, tokens int64) error {
	if tokens <= 0 {
		return nil
	}

	mu := a.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	rec := u.Usage
	rec.TokensUsed += tokens
	return a.store.UpdateUsage(ctx, userID, rec)
}
