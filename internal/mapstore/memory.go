package mapstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// memoryStore implements Store in process memory. It is only correct for a
// single bridge instance.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStore returns an empty memory-backed Store.
func NewMemoryStore() Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{data: make(map[string]memoryEntry), now: now}
}

// lookup must be called with mu held.
func (m *memoryStore) lookup(key string) (string, bool) {
	e, ok := m.data[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return "", false
	}
	return e.value, true
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ClaimPair(ctx context.Context, p Pair) (Claim, error) {
	if err := ctx.Err(); err != nil {
		return Claim{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.lookup(p.ForwardKey); ok {
		return Claim{Status: ClaimExists, Value: v}, nil
	}
	if v, ok := m.lookup(p.ReverseKey); ok && v != p.ReverseValue {
		return Claim{Status: ClaimCollision, Value: v}, nil
	}
	m.data[p.ReverseKey] = memoryEntry{value: p.ReverseValue}
	m.data[p.ForwardKey] = memoryEntry{value: p.ForwardValue}
	return Claim{Status: ClaimCreated, Value: p.ForwardValue}, nil
}

func (m *memoryStore) Close() error { return nil }
