// Package snapshots retains terminal session snapshots for retrieval after a
// session leaves the supervisor's live set.
package snapshots

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aura-meetbot/backend/internal/bot"
)

// ErrNotFound is returned when no snapshot is retained for the session id.
var ErrNotFound = fmt.Errorf("snapshot not found")

// Store persists terminal session snapshots.
type Store interface {
	Save(ctx context.Context, snap bot.Snapshot) error
	Get(ctx context.Context, id uuid.UUID) (*bot.Snapshot, error)
}

const keyPrefix = "meetbot:session:"

// RedisStore retains snapshots as JSON values with a TTL. The retention
// window itself is a deployment concern; the default comes from config.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed snapshot store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Save writes the snapshot under meetbot:session:<id>.
func (s *RedisStore) Save(ctx context.Context, snap bot.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+snap.ID.String(), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Get loads a retained snapshot, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*bot.Snapshot, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	var snap bot.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MemoryStore is an in-process store for tests and redis-less deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]bot.Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[uuid.UUID]bot.Snapshot)}
}

// Save retains the snapshot in memory.
func (s *MemoryStore) Save(_ context.Context, snap bot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	return nil
}

// Get returns a retained snapshot, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*bot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}
