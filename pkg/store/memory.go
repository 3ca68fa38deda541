package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. It is the default store
// and does not survive restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*storedSnapshot
	ttl       time.Duration
	closed    bool
	done      chan struct{}
}

type storedSnapshot struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStoreOption configures MemoryStore behavior.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	ttl             time.Duration
	cleanupInterval time.Duration
}

// WithMemoryTTL sets how long snapshots live. Zero keeps them forever.
func WithMemoryTTL(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.ttl = d
	}
}

// WithCleanupInterval sets how often expired snapshots are dropped.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates an in-memory snapshot store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &MemoryStore{
		snapshots: make(map[string]*storedSnapshot),
		ttl:       cfg.ttl,
		done:      make(chan struct{}),
	}
	if cfg.ttl > 0 {
		go m.cleanupLoop(cfg.cleanupInterval)
	}
	return m
}

// Save stores an encoded copy of snap.
func (m *MemoryStore) Save(ctx context.Context, key string, snap *Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	stored := &storedSnapshot{data: data}
	if m.ttl > 0 {
		stored.expiresAt = time.Now().Add(m.ttl)
	}
	m.snapshots[key] = stored
	return nil
}

// Load decodes a fresh copy of the stored snapshot.
func (m *MemoryStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	s, ok := m.snapshots[key]
	m.mu.RUnlock()

	if !ok || s.expired(time.Now()) {
		return nil, ErrNotFound
	}
	return Decode(s.data)
}

// Delete removes a snapshot.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.snapshots, key)
	return nil
}

// Close stops the cleanup loop and drops all snapshots.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.snapshots = nil
	return nil
}

// Count returns the number of stored snapshots, expired or not.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

func (s *storedSnapshot) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && now.After(s.expiresAt)
}

func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	now := time.Now()
	for key, s := range m.snapshots {
		if s.expired(now) {
			delete(m.snapshots, key)
		}
	}
}
