// Package limit enforces the rolling per-minute request ceiling for each
// caller identity.
package limit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Window is how long one identity's request window lasts. The window starts
// on the identity's first request; after expiry the next request opens a
// fresh window from its own arrival time.
const Window = 60 * time.Second

// RateLimitedError is returned when an identity has exhausted its window.
type RateLimitedError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute reached, resets at %s",
		e.Limit, e.ResetAt.Format(time.RFC3339))
}

type entry struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Limiter tracks one window entry per caller identity. Entries are sharded
// by identity hash so concurrent requests for the same identity serialize on
// one mutex without a global bottleneck.
type Limiter struct {
	shards [shardCount]*shard
	now    func() time.Time
}

const shardCount = 64

func New() *Limiter {
	l := &Limiter{now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return l
}

func (l *Limiter) shardFor(identity string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return l.shards[h.Sum32()%shardCount]
}

// Allow admits or rejects one request for the identity against the given
// per-minute ceiling. The ceiling is passed per call because policy is read
// fresh on every request. This must run before any quota or provider work.
func (l *Limiter) Allow(identity string, perMinute int) error {
	s := l.shardFor(identity)
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Lazily drop identities whose windows have already expired.
	for id, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, id)
		}
	}

	e, ok := s.entries[identity]
	if !ok {
		e = &entry{resetAt: now.Add(Window)}
		s.entries[identity] = e
	}

	if e.count >= perMinute {
		return &RateLimitedError{Limit: perMinute, ResetAt: e.resetAt}
	}

	e.count++
	return nil
}
