package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"github.com/sweetpotato0/ai-concierge/session"
)

// RedisStore implements session.Store using Redis, for deployments where
// several processes serve the same threads.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration for thread snapshots.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// DefaultRedisConfig returns the default snapshot store configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "concierge:thread:",
		TTL:    0,
	}
}

// NewRedisStore creates a new Redis-based snapshot store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return NewRedisStoreFromClient(client, config.Prefix, config.TTL)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisConfig().Prefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Save persists a thread snapshot to Redis.
func (s *RedisStore) Save(ctx context.Context, state *session.State) error {
	if state == nil || state.ThreadID == "" {
		return fmt.Errorf("state must have a thread id: %w", errorspkg.ErrInvalidInput)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal thread state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.threadKey(state.ThreadID), raw, s.ttl)
	pipe.SAdd(ctx, s.setKey(), state.ThreadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save thread state: %w", err)
	}
	return nil
}

// Load loads a thread snapshot from Redis.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*session.State, error) {
	raw, err := s.client.Get(ctx, s.threadKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load thread state: %w", err)
	}

	var state session.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode thread state: %w", err)
	}
	if state.Data == nil {
		state.Data = make(map[string]any)
	}
	return &state, nil
}

// Delete removes a thread snapshot from Redis.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.threadKey(threadID))
	pipe.SRem(ctx, s.setKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete thread state: %w", err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, errorspkg.ErrNotFound)
	}
	return nil
}

// List returns all thread ids, dropping index entries whose snapshot expired.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.threadKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check thread %s: %w", id, err)
		}
		if n == 0 {
			s.client.SRem(ctx, s.setKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) threadKey(id string) string {
	return s.prefix + id
}

func (s *RedisStore) setKey() string {
	return s.prefix + "set"
}

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisLocker implements session.Locker with SET NX PX so turns on one
// thread stay serialized across processes.
type RedisLocker struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	interval time.Duration
}

// NewRedisLocker creates a distributed thread locker. ttl bounds how long a
// crashed holder can block the thread.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		interval: 50 * time.Millisecond,
	}
}

// Lock acquires the thread lock, polling until ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, threadID string) (session.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + threadID
	val := uuid.NewString()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, val, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, val).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
