package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/cache"
)

// RedisStore implements Store using Redis with time-series indexes.
type RedisStore struct {
	rdb *cache.Client
	ttl time.Duration // How long to keep logs (e.g., 30 days)
}

// NewRedisStore creates a new Redis-backed storage
func NewRedisStore(rdb *cache.Client, logRetention time.Duration) *RedisStore {
	if logRetention == 0 {
		logRetention = 30 * 24 * time.Hour // Default 30 days
	}
	return &RedisStore{
		rdb: rdb,
		ttl: logRetention,
	}
}

// SaveCompletionLog stores a completion log in Redis
func (s *RedisStore) SaveCompletionLog(ctx context.Context, log *CompletionLog) error {
	// Store full log by ID
	key := fmt.Sprintf("log:%s", log.ID)
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, key, data, s.ttl); err != nil {
		return err
	}

	// Add to time-series indexes
	timestamp := float64(log.Timestamp.Unix())
	cutoff := fmt.Sprintf("%f", float64(time.Now().Add(-s.ttl).Unix()))

	indexes := []string{"logs:timeline"}
	if log.UserID != "" {
		indexes = append(indexes, fmt.Sprintf("logs:user:%s", log.UserID))
	}
	if log.Model != "" {
		indexes = append(indexes, fmt.Sprintf("logs:model:%s", log.Model))
	}

	for _, indexKey := range indexes {
		s.rdb.Redis().ZAdd(ctx, indexKey, redis.Z{
			Score:  timestamp,
			Member: log.ID,
		})
		s.rdb.Redis().ZRemRangeByScore(ctx, indexKey, "-inf", cutoff)
		s.rdb.Redis().Expire(ctx, indexKey, s.ttl)
	}

	return nil
}

// GetCompletionLog retrieves a single log by ID
func (s *RedisStore) GetCompletionLog(ctx context.Context, id string) (*CompletionLog, error) {
	key := fmt.Sprintf("log:%s", id)
	data, err := s.rdb.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var log CompletionLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, err
	}

	return &log, nil
}

// ListCompletionLogs queries logs with filters
func (s *RedisStore) ListCompletionLogs(ctx context.Context, filters LogFilters) ([]*CompletionLog, error) {
	// Determine which index to use
	var indexKey string
	if filters.UserID != "" {
		indexKey = fmt.Sprintf("logs:user:%s", filters.UserID)
	} else if filters.Model != "" {
		indexKey = fmt.Sprintf("logs:model:%s", filters.Model)
	} else {
		indexKey = "logs:timeline"
	}

	// Query by time range
	minScore := float64(filters.From.Unix())
	maxScore := float64(filters.To.Unix())
	if filters.To.IsZero() {
		maxScore = float64(time.Now().Unix())
	}

	limit := filters.Limit
	if limit == 0 {
		limit = 100 // Default limit
	}

	ids, err := s.rdb.Redis().ZRevRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:    fmt.Sprintf("%f", minScore),
		Max:    fmt.Sprintf("%f", maxScore),
		Offset: int64(filters.Offset),
		Count:  int64(limit),
	}).Result()

	if err != nil {
		return nil, err
	}

	// Fetch full logs
	logs := make([]*CompletionLog, 0, len(ids))
	for _, id := range ids {
		log, err := s.GetCompletionLog(ctx, id)
		if err == nil {
			if !matchesFilters(log, filters) {
				continue
			}
			logs = append(logs, log)
		}
	}

	return logs, nil
}

func matchesFilters(log *CompletionLog, filters LogFilters) bool {
	if filters.Status != "" && log.Status != filters.Status {
		return false
	}
	if filters.Provider != "" && log.Provider != filters.Provider {
		return false
	}
	return true
}

// GetUsageStats calculates usage statistics
func (s *RedisStore) GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error) {
	logs, err := s.ListCompletionLogs(ctx, LogFilters{
		UserID: userID,
		From:   from,
		To:     to,
		Limit:  10000, // Get all logs in range
	})
	if err != nil {
		return nil, err
	}
	return aggregateUsage(logs), nil
}

// GetCostStats calculates cost statistics
func (s *RedisStore) GetCostStats(ctx context.Context, userID string, from, to time.Time) (*CostStats, error) {
	logs, err := s.ListCompletionLogs(ctx, LogFilters{
		UserID: userID,
		From:   from,
		To:     to,
		Limit:  10000,
	})
	if err != nil {
		return nil, err
	}
	return aggregateCost(logs), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Redis().Ping(ctx).Err()
}

func aggregateUsage(logs []*CompletionLog) *UsageStats {
	stats := &UsageStats{
		ByModel:    make(map[string]int64),
		ByProvider: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	var totalDuration time.Duration
	for _, log := range logs {
		stats.TotalRequests++
		if log.Blocked {
			stats.Blocked++
		}
		if log.Model != "" {
			stats.ByModel[log.Model]++
		}
		if log.Provider != "" {
			stats.ByProvider[log.Provider]++
		}
		stats.ByStatus[log.Status]++
		totalDuration += log.Duration
	}

	if stats.TotalRequests > 0 {
		stats.AvgDuration = totalDuration / time.Duration(stats.TotalRequests)
	}
	return stats
}

func aggregateCost(logs []*CompletionLog) *CostStats {
	stats := &CostStats{
		ByModel: make(map[string]float64),
	}
	for _, log := range logs {
		stats.TotalCost += log.CostUSD
		stats.TotalTokens += int64(log.Tokens)
		if log.Model != "" {
			stats.ByModel[log.Model] += log.CostUSD
		}
	}
	return stats
}
