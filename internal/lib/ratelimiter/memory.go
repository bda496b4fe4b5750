package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memoryItem struct {
	count     int
	expiresAt time.Time
}

// MemoryStore is the AttemptStore used when no Redis is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	clock clock.Clock
}

var _ AttemptStore = (*MemoryStore)(nil)

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}

	return &MemoryStore{
		items: make(map[string]memoryItem),
		clock: clk,
	}
}

func (m *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !m.clock.Now().Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, _ := m.live(key)
	item.count++
	item.expiresAt = m.clock.Now().Add(ttl)
	m.items[key] = item

	return item.count, nil
}

func (m *MemoryStore) Block(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem{count: 1, expiresAt: m.clock.Now().Add(ttl)}

	return nil
}

func (m *MemoryStore) IsBlocked(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live(key)

	return ok, nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)

	return nil
}
