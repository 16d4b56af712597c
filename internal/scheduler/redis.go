package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"VaultKeeper/internal/model"
)

// DefaultRedisKey holds the schedule document when no key is configured.
const DefaultRedisKey = "vaultkeeper:schedule"

// RedisStore keeps the same JSON document as FileStore under a single key,
// for deployments without a durable local disk.
type RedisStore struct {
	Client *redis.Client
	Key    string
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, key string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{Client: client, Key: key}, nil
}

func (r *RedisStore) Name() string { return "redis:" + r.Key }

func (r *RedisStore) Load(ctx context.Context) (model.ScheduleState, error) {
	data, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ScheduleState{}, model.ErrNoState
	}
	if err != nil {
		return model.ScheduleState{}, fmt.Errorf("redis get %s: %w", r.Key, err)
	}
	return decodeState(data)
}

func (r *RedisStore) Save(ctx context.Context, s model.ScheduleState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", model.ErrPersist, err)
	}
	if err := r.Client.Set(ctx, r.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis set %s: %v", model.ErrPersist, r.Key, err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.Client.Close() }
