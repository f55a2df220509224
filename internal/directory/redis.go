package directory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/qqbot-delivery/internal/models"
)

// Redis is a Directory backed by a redis set per account and target type, so
// multiple relay instances share one view of known targets.
type Redis struct {
	client *redis.Client
}

// NewRedis constructs a redis-backed directory for the given address.
func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// IsKnown implements Directory.
func (r *Redis) IsKnown(ctx context.Context, accountID string, target models.Target) (bool, error) {
	known, err := r.client.SIsMember(ctx, setKey(accountID, target.Type), target.Address).Result()
	if err != nil {
		return false, fmt.Errorf("directory: sismember: %w", err)
	}
	return known, nil
}

// MarkSeen implements Directory.
func (r *Redis) MarkSeen(ctx context.Context, accountID string, target models.Target) error {
	if err := r.client.SAdd(ctx, setKey(accountID, target.Type), target.Address).Err(); err != nil {
		return fmt.Errorf("directory: sadd: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func setKey(accountID, targetType string) string {
	return "known:" + accountID + ":" + targetType
}
