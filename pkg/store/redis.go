package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/pkg/cache"
)

const userIndexKey = "users"

// RedisStore keeps users as JSON blobs under user:<id> with a set index for
// listing.
type RedisStore struct {
	rdb *cache.Client
}

func NewRedisStore(rdb *cache.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func userKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func (s *RedisStore) GetUser(ctx context.Context, id string) (*User, error) {
	data, err := s.rdb.Get(ctx, userKey(id))
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("corrupted user record %s: %w", id, err)
	}
	return &u, nil
}

func (s *RedisStore) PutUser(ctx context.Context, u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, userKey(u.ID), data, 0); err != nil {
		return err
	}
	return s.rdb.Redis().SAdd(ctx, userIndexKey, u.ID).Err()
}

// UpdateUsage rewrites the usage portion of the stored record. The SET is a
// single atomic command; cross-request serialization is handled by the
// accountant's per-identity locks.
func (s *RedisStore) UpdateUsage(ctx context.Context, id string, rec UsageRecord) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	u.Usage = rec
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, userKey(id), data, 0)
}

func (s *RedisStore) ListUsers(ctx context.Context) ([]*User, error) {
	ids, err := s.rdb.Redis().SMembers(ctx, userIndexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if err == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Redis().Ping(ctx).Err()
}
