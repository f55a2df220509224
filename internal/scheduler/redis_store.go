package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/qqbot-delivery/internal/models"
)

const (
	scheduleKey = "reminders:schedule"
	recordKey   = "reminders:records"
)

// RedisStore keeps the schedule in a sorted set (member = reminder id,
// score = unix fire time) with the full records in a hash alongside. Both
// structures are updated on Add/Remove; a crash between the two writes leaves
// at worst an unscored record that Remove cleans up.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a redis-backed reminder store for the given address.
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Add implements Store.
func (r *RedisStore) Add(ctx context.Context, rem models.Reminder) error {
	data, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("scheduler store: marshal reminder: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, recordKey, rem.ID, data)
	pipe.ZAdd(ctx, scheduleKey, redis.Z{Score: float64(rem.FireAt.Unix()), Member: rem.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scheduler store: add reminder: %w", err)
	}
	return nil
}

// Due implements Store.
func (r *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	ids, err := r.client.ZRangeByScore(ctx, scheduleKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler store: range schedule: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	records, err := r.client.HMGet(ctx, recordKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler store: fetch records: %w", err)
	}

	out := make([]models.Reminder, 0, len(records))
	for i, raw := range records {
		s, ok := raw.(string)
		if !ok {
			// Record missing for a scheduled id; drop the orphaned entry.
			r.client.ZRem(ctx, scheduleKey, ids[i])
			continue
		}
		var rem models.Reminder
		if err := json.Unmarshal([]byte(s), &rem); err != nil {
			return nil, fmt.Errorf("scheduler store: decode record %s: %w", ids[i], err)
		}
		out = append(out, rem)
	}
	return out, nil
}

// Remove implements Store.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, scheduleKey, id)
	pipe.HDel(ctx, recordKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scheduler store: remove reminder: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
