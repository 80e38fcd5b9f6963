package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noteflow-ai/quotad/pkg/quota"
)

// RedisStore implements quota.Store backed by Redis. Counters, overrides,
// and the audit trail live in Redis, with Lua scripts keeping the
// conditional increment atomic across any number of engine instances.
//
// Counter keys carry a TTL (when configured) so expired periods age out of
// Redis by themselves; PruneCounters is therefore a no-op for this backend.
type RedisStore struct {
	client     goredis.Cmdable
	keyPrefix  string
	counterTTL time.Duration
	auditMax   int64
}

var _ quota.Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "quotad:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithCounterTTL sets the expiry applied to counter keys on creation.
// Zero means no expiry (required for lifetime granularity).
func WithCounterTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.counterTTL = ttl }
}

// WithAuditMax caps the length of the audit list (default 10000).
func WithAuditMax(n int64) RedisOption {
	return func(s *RedisStore) { s.auditMax = n }
}

// NewRedisStore creates a Redis-backed store. The client must be a connected
// *goredis.Client or *goredis.ClusterClient.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "quotad:",
		auditMax:  10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) counterKey(accountID, periodKey string) string {
	return s.keyPrefix + "counter:" + accountID + ":" + periodKey
}

func (s *RedisStore) overrideKey(accountID string) string {
	return s.keyPrefix + "override:" + accountID
}

func (s *RedisStore) auditKey() string {
	return s.keyPrefix + "audit"
}

// incrementScript performs the conditional increment atomically.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = ttl seconds for newly created keys (0 = none)
//
// Returns {applied, count}.
var incrementScript = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if count >= limit then
    return {0, count}
end
count = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call("TTL", KEYS[1]) == -1 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return {1, count}
`)

// decrementScript decrements the counter, flooring at zero.
var decrementScript = goredis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count > 0 then
    return redis.call("DECR", KEYS[1])
end
return 0
`)

// IncrementIfBelow implements quota.CounterStore.
func (s *RedisStore) IncrementIfBelow(ctx context.Context, accountID, periodKey string, limit int64) (int64, bool, error) {
	ttl := int64(0)
	if s.counterTTL > 0 {
		ttl = int64(s.counterTTL.Seconds())
	}

	result, err := incrementScript.Run(ctx, s.client,
		[]string{s.counterKey(accountID, periodKey)}, limit, ttl).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected script response %v", result)
	}
	applied, _ := values[0].(int64)
	count, _ := values[1].(int64)
	return count, applied == 1, nil
}

// Decrement implements quota.CounterStore, flooring at zero.
func (s *RedisStore) Decrement(ctx context.Context, accountID, periodKey string) error {
	err := decrementScript.Run(ctx, s.client,
		[]string{s.counterKey(accountID, periodKey)}).Err()
	if err != nil {
		return fmt.Errorf("failed to decrement counter: %w", err)
	}
	return nil
}

// Count implements quota.CounterStore. A missing key reads as zero.
func (s *RedisStore) Count(ctx context.Context, accountID, periodKey string) (int64, error) {
	count, err := s.client.Get(ctx, s.counterKey(accountID, periodKey)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return count, nil
}

// ResetCounter implements quota.CounterStore, preserving any TTL.
func (s *RedisStore) ResetCounter(ctx context.Context, accountID, periodKey string) error {
	err := s.client.SetArgs(ctx, s.counterKey(accountID, periodKey), 0,
		goredis.SetArgs{KeepTTL: true}).Err()
	if err != nil {
		return fmt.Errorf("failed to reset counter: %w", err)
	}
	return nil
}

// SetOverride implements quota.OverrideStore. The tagged value is stored as
// "unlimited" or a decimal count, never a sentinel integer.
func (s *RedisStore) SetOverride(ctx context.Context, accountID string, limit quota.Limit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.overrideKey(accountID), limit.String(), 0).Err(); err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// Override implements quota.OverrideStore.
func (s *RedisStore) Override(ctx context.Context, accountID string) (quota.Limit, bool, error) {
	value, err := s.client.Get(ctx, s.overrideKey(accountID)).Result()
	if err == goredis.Nil {
		return quota.Limit{}, false, nil
	}
	if err != nil {
		return quota.Limit{}, false, fmt.Errorf("failed to read override: %w", err)
	}
	limit, err := quota.ParseLimit(value)
	if err != nil {
		return quota.Limit{}, false, fmt.Errorf("corrupt override for %q: %w", accountID, err)
	}
	return limit, true, nil
}

// ClearOverride implements quota.OverrideStore.
func (s *RedisStore) ClearOverride(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, s.overrideKey(accountID)).Err(); err != nil {
		return fmt.Errorf("failed to clear override: %w", err)
	}
	return nil
}

// AppendAudit implements quota.AuditStore. Records are pushed onto a capped
// list as JSON.
func (s *RedisStore) AppendAudit(ctx context.Context, rec quota.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.auditKey(), data)
	pipe.LTrim(ctx, s.auditKey(), 0, s.auditMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListAudit implements quota.AuditStore, newest first.
func (s *RedisStore) ListAudit(ctx context.Context, accountID string, n int) ([]quota.AuditRecord, error) {
	entries, err := s.client.LRange(ctx, s.auditKey(), 0, s.auditMax-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	var out []quota.AuditRecord
	for _, entry := range entries {
		if len(out) >= n {
			break
		}
		var rec quota.AuditRecord
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}
		if accountID != "" && rec.AccountID != accountID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// PruneCounters implements quota.Store. Counter keys expire via their TTL,
// so there is nothing to prune explicitly.
func (s *RedisStore) PruneCounters(context.Context, string) (int, error) {
	return 0, nil
}

// Close implements quota.Store.
func (s *RedisStore) Close() error {
	if closer, ok := s.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
