package breaker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds breaker snapshots keyed by source name. The memory store makes the
// breaker process-local; the Redis store shares it across deployed instances.
type Store interface {
	Load(ctx context.Context, name string) (Snapshot, error)
	Save(ctx context.Context, name string, snap Snapshot) error
}

// TrialStore is implemented by stores that admit one half-open trial across every
// breaker sharing them. A claim expires after ttl so a crashed holder cannot keep
// the circuit from recovering.
type TrialStore interface {
	ClaimTrial(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseTrial(ctx context.Context, name string) error
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Load returns the stored snapshot, or a closed one for unknown names.
func (s *MemoryStore) Load(_ context.Context, name string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[name], nil
}

// Save replaces the snapshot for name.
func (s *MemoryStore) Save(_ context.Context, name string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[name] = snap
	return nil
}

// RedisStore keeps snapshots in Redis hashes so every instance sees one breaker per source.
// Concurrent writers are last-write-wins; the half-open trial is claimed with SETNX.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore wraps a Redis client. An empty prefix defaults to "harvester:breaker".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "harvester:breaker"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

// Load reads the snapshot hash for name.
func (s *RedisStore) Load(ctx context.Context, name string) (Snapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load breaker state: %w", err)
	}
	if len(fields) == 0 {
		return Snapshot{}, nil
	}
	var snap Snapshot
	state, err := strconv.Atoi(fields["state"])
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse breaker state: %w", err)
	}
	snap.State = State(state)
	if snap.FailureCount, err = strconv.Atoi(fields["failures"]); err != nil {
		return Snapshot{}, fmt.Errorf("parse breaker failures: %w", err)
	}
	openedAt, err := strconv.ParseInt(fields["opened_at"], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse breaker opened_at: %w", err)
	}
	if openedAt > 0 {
		snap.OpenedAt = time.Unix(0, openedAt)
	}
	return snap, nil
}

// Save writes the snapshot hash for name.
func (s *RedisStore) Save(ctx context.Context, name string, snap Snapshot) error {
	var openedAt int64
	if !snap.OpenedAt.IsZero() {
		openedAt = snap.OpenedAt.UnixNano()
	}
	err := s.rdb.HSet(ctx, s.key(name),
		"state", int(snap.State),
		"failures", snap.FailureCount,
		"opened_at", openedAt,
	).Err()
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}

func (s *RedisStore) trialKey(name string) string {
	return s.key(name) + ":trial"
}

// ClaimTrial sets the trial marker for name unless another instance holds it.
func (s *RedisStore) ClaimTrial(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.trialKey(name), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim breaker trial: %w", err)
	}
	return ok, nil
}

// ReleaseTrial clears the trial marker for name.
func (s *RedisStore) ReleaseTrial(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, s.trialKey(name)).Err(); err != nil {
		return fmt.Errorf("release breaker trial: %w", err)
	}
	return nil
}
