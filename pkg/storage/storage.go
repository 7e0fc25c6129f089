package storage

import (
	"context"
	"time"
)

// Store defines the interface for persisting completion logs and analytics.
type Store interface {
	SaveCompletionLog(ctx context.Context, log *CompletionLog) error
	GetCompletionLog(ctx context.Context, id string) (*CompletionLog, error)
	ListCompletionLogs(ctx context.Context, filters LogFilters) ([]*CompletionLog, error)

	GetUsageStats(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error)
	GetCostStats(ctx context.Context, userID string, from, to time.Time) (*CostStats, error)

	Ping(ctx context.Context) error
}

// LogFilters for querying completion logs
type LogFilters struct {
	UserID   string
	Model    string
	Status   string
	Provider string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// UsageStats aggregated usage statistics
type UsageStats struct {
	TotalRequests int64            `json:"total_requests"`
	Blocked       int64            `json:"blocked"`
	ByModel       map[string]int64 `json:"by_model"`
	ByProvider    map[string]int64 `json:"by_provider"`
	ByStatus      map[string]int64 `json:"by_status"`
	AvgDuration   time.Duration    `json:"avg_duration"`
}

// CostStats aggregated cost statistics
type CostStats struct {
	TotalCost   float64            `json:"total_cost"`
	TotalTokens int64              `json:"total_tokens"`
	ByModel     map[string]float64 `json:"by_model"`
}
