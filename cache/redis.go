package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"Fanvault/core/urlcache"
	"Fanvault/logger"

	"github.com/go-redis/redis/v8"
)

// URLCacheKey is the Redis hash holding the persisted URL cache.
const URLCacheKey = "fanvault:url_cache"

// RedisURLStore persists URL cache snapshots in one Redis hash, field per
// cache key.
type RedisURLStore struct {
	client *redis.Client
	key    string
}

// NewRedisURLStore creates a store on client. key defaults to URLCacheKey.
func NewRedisURLStore(client *redis.Client, key string) *RedisURLStore {
	if key == "" {
		key = URLCacheKey
	}
	return &RedisURLStore{client: client, key: key}
}

// Load 读取所有缓存记录. Undecodable fields are skipped.
func (s *RedisURLStore) Load(ctx context.Context) (map[string]urlcache.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return map[string]urlcache.Record{}, nil
		}
		return nil, fmt.Errorf("failed to load url cache: %w", err)
	}

	records := make(map[string]urlcache.Record, len(fields))
	for k, v := range fields {
		var r urlcache.Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			logger.Warn("skipping undecodable url cache record", logger.String("key", k), logger.ErrorField(err))
			continue
		}
		records[k] = r
	}
	return records, nil
}

// Save replaces the hash with records in one transaction. The hash expires
// with its longest-lived record.
func (s *RedisURLStore) Save(ctx context.Context, records map[string]urlcache.Record) error {
	values := make(map[string]interface{}, len(records))
	var latest time.Time
	for k, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal url cache record: %w", err)
		}
		values[k] = raw
		if r.ExpiresAt.After(latest) {
			latest = r.ExpiresAt
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
			pipe.ExpireAt(ctx, s.key, latest)
		}
		return nil
	})
	if err != nil {
		if isOOM(err) || isExecAbort(err) {
			return fmt.Errorf("%w: %v", urlcache.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("failed to save url cache: %w", err)
	}
	return nil
}

// Clear 删除缓存
func (s *RedisURLStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear url cache: %w", err)
	}
	return nil
}

// isOOM matches the error Redis returns when maxmemory is reached.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM ")
}

// isExecAbort matches a transaction Redis discarded because a queued command
// was refused. Inside MULTI that is how a maxmemory refusal of HSET surfaces.
func isExecAbort(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "EXECABORT ")
}
