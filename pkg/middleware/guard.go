package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/pkg/cache"
	"github.com/parleyhq/parley/pkg/config"
)

const guardKey = "guard:inbound"

// NewGuard builds the coarse server-wide inbound limiter. It protects the
// process as a whole and is separate from the per-identity limiter the
// completion pipeline enforces. When Redis is available the budget is shared
// across replicas via redis_rate; otherwise a process-local token bucket is
// used.
func NewGuard(cfgStore *config.Store, rdb *cache.Client) func(http.Handler) http.Handler {
	var (
		distributed *redis_rate.Limiter
		local       *rate.Limiter
	)

	cfg := cfgStore.Get()
	if rdb != nil {
		distributed = redis_rate.NewLimiter(rdb.Redis())
	} else {
		local = rate.NewLimiter(rate.Limit(cfg.Guard.RPS), cfg.Guard.Burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if !cfg.Guard.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if distributed != nil {
				res, err := distributed.Allow(r.Context(), guardKey, redis_rate.Limit{
					Rate:   int(cfg.Guard.RPS),
					Burst:  cfg.Guard.Burst,
					Period: time.Second,
				})
				// Fail open when Redis is unreachable; the per-identity
				// limiter still applies downstream.
				if err == nil && res.Allowed == 0 {
					retryAfter := int(res.RetryAfter / time.Second)
					if retryAfter < 1 {
						retryAfter = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
					respondJSONError(w, "server is at capacity, try again shortly", http.StatusTooManyRequests)
					return
				}
			} else if !local.Allow() {
				w.Header().Set("Retry-After", "1")
				respondJSONError(w, "server is at capacity, try again shortly", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
