package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store mirrors suspended-conversation bookkeeping somewhere durable. It
// never brokers the resume itself: Manager.Resume always unblocks the
// in-process resultCh directly. A Store only lets an operator (or a second
// process) see what is currently waiting, and survive a restart without
// losing that visibility.
type Store interface {
	Save(ctx context.Context, sc *SuspendedConversation) error
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// RedisStore persists each SuspendedConversation snapshot as one JSON string
// value keyed by conversation id, set to expire alongside the conversation.
// Grounded on the teacher's agent/persistence/redis_task_store.go shape:
// a single *redis.Client, a configurable key prefix, TTL-bearing writes.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig names the Redis endpoint backing a RedisStore.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore dials addr and verifies connectivity with a 5s Ping before
// returning, so a misconfigured Redis endpoint fails fast at startup rather
// than on the first suspended conversation.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "archflow:conversation:"
	}
	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

func (s *RedisStore) key(conversationID string) string {
	return s.keyPrefix + conversationID
}

// Save writes sc's snapshot (status, token, form, timestamps — never the
// unexported resultCh) with an expiry slightly past ExpiresAt, so a crashed
// process's entries self-clean even without a janitor running.
func (s *RedisStore) Save(ctx context.Context, sc *SuspendedConversation) error {
	encoded, err := json.Marshal(sc.snapshot())
	if err != nil {
		return fmt.Errorf("marshaling suspended conversation %s: %w", sc.ID, err)
	}

	ttl := time.Until(sc.ExpiresAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.key(sc.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("saving suspended conversation %s: %w", sc.ID, err)
	}
	return nil
}

// Delete removes conversationID's snapshot, called on resume, cancel, and
// expiry.
func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("deleting suspended conversation %s: %w", conversationID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
