package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/roundtable/types"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshotStore is a Redis-based implementation of SnapshotStore.
// Suitable for distributed production deployments.
// Each snapshot is a JSON string under <prefix>conv:<id>; a set under
// <prefix>conv:index lists every stored id.
type RedisSnapshotStore struct {
	client    *redis.Client
	keyPrefix string
	terminal  time.Duration
}

// NewRedisSnapshotStore creates a new Redis-based snapshot store
func NewRedisSnapshotStore(config StoreConfig) (*RedisSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSnapshotStoreWithClient(client, config), nil
}

// NewRedisSnapshotStoreWithClient wraps an existing client (shared pools, tests)
func NewRedisSnapshotStoreWithClient(client *redis.Client, config StoreConfig) *RedisSnapshotStore {
	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "roundtable:"
	}
	var terminal time.Duration
	if config.Cleanup.Enabled {
		terminal = config.Cleanup.TerminalRetention
	}
	return &RedisSnapshotStore{
		client:    client,
		keyPrefix: keyPrefix + "conv:",
		terminal:  terminal,
	}
}

// Close closes the store
func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisSnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// snapshotKey returns the Redis key for a conversation snapshot
func (s *RedisSnapshotStore) snapshotKey(id string) string {
	return s.keyPrefix + id
}

// indexKey returns the Redis key for the set of stored ids
func (s *RedisSnapshotStore) indexKey() string {
	return s.keyPrefix + "index"
}

// Save writes the snapshot and its index entry in one transaction.
// Terminal conversations get an expiry when cleanup is enabled.
func (s *RedisSnapshotStore) Save(ctx context.Context, conv types.Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	var ttl time.Duration
	if conv.Status.IsTerminal() {
		ttl = s.terminal
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapshotKey(conv.ID), data, ttl)
		pipe.SAdd(ctx, s.indexKey(), conv.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns one snapshot
func (s *RedisSnapshotStore) Load(ctx context.Context, id string) (types.Conversation, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(id)).Bytes()
	if err == redis.Nil {
		return types.Conversation{}, ErrNotFound
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return types.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conv, nil
}

// LoadAll returns every indexed snapshot. Index entries whose snapshot has
// expired are removed from the index.
func (s *RedisSnapshotStore) LoadAll(ctx context.Context) ([]types.Conversation, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(ids) == 0 {
		return []types.Conversation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.snapshotKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}

	out := make([]types.Conversation, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var conv types.Conversation
		if err := json.Unmarshal([]byte(raw), &conv); err != nil {
			return nil, fmt.Errorf("%s: failed to unmarshal conversation: %w", ids[i], err)
		}
		out = append(out, conv)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune index: %w", err)
		}
	}
	sortByCreated(out)
	return out, nil
}

// Delete removes a snapshot and its index entry
func (s *RedisSnapshotStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.snapshotKey(id))
		pipe.SRem(ctx, s.indexKey(), id)
		return nil
	})
	return err
}

// Prune removes expired terminal snapshots. Keys with a TTL also expire on
// their own; this catches snapshots written before cleanup was enabled.
func (s *RedisSnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	convs, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, conv := range convs {
		if !expired(conv, cutoff) {
			continue
		}
		if err := s.Delete(ctx, conv.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Ensure RedisSnapshotStore implements SnapshotStore
var _ SnapshotStore = (*RedisSnapshotStore)(nil)
