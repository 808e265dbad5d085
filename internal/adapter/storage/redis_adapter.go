package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	snapshotKeyPrefix  = "cart:"
	defaultSnapshotTTL = 24 * time.Hour
)

// saveSnapshotScript overwrites the snapshot, or deletes it when the payload is empty.
var saveSnapshotScript = redis.NewScript(`
local key = KEYS[1]
local payload = ARGV[1]
local ttl = tonumber(ARGV[2])

if payload == '' then
	redis.call('DEL', key)
	return 0
end

redis.call('SET', key, payload, 'PX', ttl)
return 1
`)

type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.SnapshotRepository = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func (r *RedisSnapshotStore) Save(ctx context.Context, clientID string, items []domain.Item) error {
	payload := ""
	if len(items) > 0 {
		buf, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		payload = string(buf)
	}

	key := snapshotKeyPrefix + clientID
	if err := saveSnapshotScript.Run(ctx, r.client, []string{key}, payload, r.ttl.Milliseconds()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotStore) Take(ctx context.Context, clientID string) ([]domain.Item, error) {
	raw, err := r.client.GetDel(ctx, snapshotKeyPrefix+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take snapshot: %w", err)
	}

	var items []domain.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return items, nil
}

func (r *RedisSnapshotStore) Delete(ctx context.Context, clientID string) error {
	return r.client.Del(ctx, snapshotKeyPrefix+clientID).Err()
}
