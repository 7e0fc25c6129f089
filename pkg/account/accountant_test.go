package account

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/pkg/store"
)

func seedUser(t *testing.T, st store.Store, u store.User) {
	t.Helper()
	if err := st.PutUser(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestCheckAndRecord_RejectsAtCeiling(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	a := New(st)
	today := a.now().Format(store.DayFormat)

	seedUser(t, st, store.User{
		ID:     "u1",
		Plan:   store.PlanFree,
		Status: store.StatusActive,
		Usage:  store.UsageRecord{RequestsToday: 5, LastRequestDate: today},
	})

	err := a.CheckAndRecord(context.Background(), "u1", 5)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if qe.Limit != 5 || qe.Used != 5 {
		t.Fatalf("expected limit=5 used=5, got limit=%d used=%d", qe.Limit, qe.Used)
	}
}

func TestCheckAndRecord_DayRolloverResetsToOne(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	a := New(st)

	seedUser(t, st, store.User{
		ID:     "u1",
		Plan:   store.PlanFree,
		Status: store.StatusActive,
		Usage:  store.UsageRecord{RequestsToday: 49, LastRequestDate: "2020-01-01"},
	})

	if err := a.CheckAndRecord(context.Background(), "u1", 50); err != nil {
		t.Fatalf("stale counter should not block a new day: %v", err)
	}

	u, err := st.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Usage.RequestsToday != 1 {
		t.Fatalf("rollover should reset counter to 1, got %d", u.Usage.RequestsToday)
	}
	if u.Usage.LastRequestDate != a.now().Format(store.DayFormat) {
		t.Fatalf("last request date not advanced: %s", u.Usage.LastRequestDate)
	}
}

func TestCheckAndRecord_PaidPlanUsesFixedCeiling(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	a := New(st)
	today := a.now().Format(store.DayFormat)

	seedUser(t, st, store.User{
		ID:     "pro",
		Plan:   store.PlanPro,
		Status: store.StatusActive,
		Usage:  store.UsageRecord{RequestsToday: 100, LastRequestDate: today},
	})

	// Policy ceiling of 5 must not apply to a paid plan.
	if err := a.CheckAndRecord(context.Background(), "pro", 5); err != nil {
		t.Fatalf("paid plan rejected below its ceiling: %v", err)
	}

	seedUser(t, st, store.User{
		ID:     "pro-capped",
		Plan:   store.PlanPro,
		Status: store.StatusActive,
		Usage:  store.UsageRecord{RequestsToday: PaidDailyLimit, LastRequestDate: today},
	})

	err := a.CheckAndRecord(context.Background(), "pro-capped", 5)
	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError at paid ceiling, got %v", err)
	}
	if qe.Limit != PaidDailyLimit {
		t.Fatalf("expected paid ceiling %d, got %d", PaidDailyLimit, qe.Limit)
	}
}

func TestCheckAndRecord_ConcurrentRequestsRespectCeiling(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	a := New(st)

	seedUser(t, st, store.User{ID: "u1", Plan: store.PlanFree, Status: store.StatusActive})

	const ceiling = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < ceiling*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.CheckAndRecord(context.Background(), "u1", ceiling); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != ceiling {
		t.Fatalf("expected exactly %d admissions, got %d", ceiling, admitted)
	}
	u, _ := st.GetUser(context.Background(), "u1")
	if u.Usage.RequestsToday != ceiling {
		t.Fatalf("expected counter %d, got %d", ceiling, u.Usage.RequestsToday)
	}
}

func TestAddTokens(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	a := New(st)

	seedUser(t, st, store.User{ID: "u1", Plan: store.PlanFree, Status: store.StatusActive})

	if err := a.AddTokens(context.Background(), "u1", 120); err != nil {
		t.Fatalf("add tokens: %v", err)
	}
	if err := a.AddTokens(context.Background(), "u1", 30); err != nil {
		t.Fatalf("add tokens: %v", err)
	}

	u, _ := st.GetUser(context.Background(), "u1")
	if u.Usage.TokensUsed != 150 {
		t.Fatalf("expected 150 tokens recorded, got %d", u.Usage.TokensUsed)
	}
}

func TestRequestsOn_StaleDateTreatedAsZero(t *testing.T) {
	t.Parallel()

	rec := store.UsageRecord{RequestsToday: 42, LastRequestDate: "2020-01-01"}
	if got := rec.RequestsOn(time.Now()); got != 0 {
		t.Fatalf("stale record should count as zero, got %d", got)
	}
}
