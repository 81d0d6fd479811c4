// Package notify tracks whether a viewer has unread notifications and pushes
// changes to their open pages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// AnonymousViewer is the key used when no user is signed in.
const AnonymousViewer = "anonymous"

// Store holds the unread flag per viewer. A viewer never seen reads as false.
// SetUnread swaps the flag atomically and returns the previous value.
type Store interface {
	Unread(ctx context.Context, viewer string) (bool, error)
	SetUnread(ctx context.Context, viewer string, unread bool) (prev bool, err error)
}

// MemoryStore keeps flags in process memory.
// Thread-safe for concurrent access.
type MemoryStore struct {
	mu     sync.RWMutex
	unread map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{unread: make(map[string]bool)}
}

// Unread returns the flag for viewer.
func (m *MemoryStore) Unread(_ context.Context, viewer string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unread[viewer], nil
}

// SetUnread sets the flag for viewer and returns the previous value.
func (m *MemoryStore) SetUnread(_ context.Context, viewer string, unread bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.unread[viewer]
	if unread {
		m.unread[viewer] = true
	} else {
		delete(m.unread, viewer)
	}
	return prev, nil
}

// RedisStore keeps flags in Redis so every instance sees the same state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using client. Keys are notify:unread:{viewer}.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "notify:unread:"}
}

// Unread returns the flag for viewer.
func (r *RedisStore) Unread(ctx context.Context, viewer string) (bool, error) {
	_, err := r.client.Get(ctx, r.prefix+viewer).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read unread flag: %w", err)
	}
	return true, nil
}

// SetUnread sets the flag for viewer with SET ... GET or GETDEL, so the
// previous value is read in the same command.
func (r *RedisStore) SetUnread(ctx context.Context, viewer string, unread bool) (bool, error) {
	key := r.prefix + viewer
	var err error
	if unread {
		err = r.client.SetArgs(ctx, key, "1", redis.SetArgs{Get: true}).Err()
	} else {
		err = r.client.GetDel(ctx, key).Err()
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to write unread flag: %w", err)
	}
	return true, nil
}
