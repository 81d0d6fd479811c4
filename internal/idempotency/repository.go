package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

func scopedKey(owner, key string) string {
	return owner + "\x00" + key
}

// Get implements Repository.
func (r *InMemoryRepository) Get(_ context.Context, owner, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[scopedKey(owner, key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *record
	return &copied, nil
}

// Store implements Repository.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := scopedKey(record.Owner, record.Key)
	if _, exists := r.records[k]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	copied := *record
	r.records[k] = &copied
	return nil
}

// DeleteOlderThan removes records older than d and returns how many were removed.
func (r *InMemoryRepository) DeleteOlderThan(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-d)
	deleted := 0
	for k, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, k)
			deleted++
		}
	}
	return deleted
}

// RunPeriodicCleanup sweeps records older than maxAge every interval until
// stop is closed. Redis records carry their own TTL and need no sweeper.
func (r *InMemoryRepository) RunPeriodicCleanup(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if n := r.DeleteOlderThan(maxAge); n > 0 {
			slog.Info("expired commit replay records", "deleted", n, "max_age", maxAge)
		}
	}
}

// RedisRepository implements Repository on Redis. Records expire on their
// own after the configured TTL.
type RedisRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisRepository creates a repository whose records live for ttl.
// ttl <= 0 uses DefaultExpiry.
func NewRedisRepository(client redis.UniversalClient, ttl time.Duration) *RedisRepository {
	if ttl <= 0 {
		ttl = DefaultExpiry
	}
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) redisKey(owner, key string) string {
	return "idempotency:" + owner + ":" + key
}

// Get implements Repository.
func (r *RedisRepository) Get(ctx context.Context, owner, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, r.redisKey(owner, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}

// Store implements Repository.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.redisKey(record.Owner, record.Key), raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}
