package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLogNotFound indicates no log exists for the requested ID.
var ErrLogNotFound = errors.New("completion log not found")

const memoryStoreCap = 10000

// MemoryStore keeps recent completion logs in a ring buffer. Used when Redis
// is not configured and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	logs []*CompletionLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveCompletionLog(ctx context.Context, log *CompletionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := *log
	s.logs = append(s.logs, &cpy)
	if len(s.logs) > memoryStoreCap {
		s.logs = s.logs[len(s.logs)-memoryStoreCap:]
	}
	return nil
}

func (s *MemoryStore) GetCompletionLog(ctx context.Context, id string) (*CompletionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, log := range s.logs {
		if log.ID == id {
			cpy := *log
			return &cpy, nil
		}
	}
	return nil, ErrLogNotFound
}

func (s *MemoryStore) ListCompletionLogs(ctx context.Context, filters LogFilters) ([]*CompletionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filters.Limit
	if limit == 0 {
		limit = 100
	}

	out := make([]*CompletionLog, 0, limit)
	skipped := 0
	// Newest first, matching the redis implementation.
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		log := s.logs[i]
		if filters.UserID != "" && log.UserID != filters.UserID {
			continue
		}
		if filters.Model != "" && log.Model != filters.Model {
			continue
		}
		if !matchesFilters(log, filters) {
			continue
		}
		if !filters.From.IsZero() && log.Timestamp.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && log.Timestamp.After(filters.To) {
			continue
		}
		if skipped < filters.Offset {
			skipped++
			continue
		}
		cpy := *log
		out = append(out, &cpy)
	}
	return out, nil
}

func (s *MemoryStore) GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error) {
	logs, err := s.ListCompletionLogs(ctx, LogFilters{UserID: userID, From: from, To: to, Limit: memoryStoreCap})
	if err != nil {
		return nil, err
	}
	return aggregateUsage(logs), nil
}

func (s *MemoryStore) GetCostStats(ctx context.Context, userID string, from, to time.Time) (*CostStats, error) {
	logs, err := s.ListCompletionLogs(ctx, LogFilters{UserID: userID, From: from, To: to, Limit: memoryStoreCap})
	if err != nil {
		return nil, err
	}
	return aggregateCost(logs), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
