package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// Registry maps open-options keys to sessions. It is safe for concurrent
// use.
type Registry struct {
	loader Loader
	config *RegistryConfig
	opts   options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	totalCreated int64
	totalEvicted int64

	done        chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Active       int   // Live sessions
	Referenced   int   // Sessions with at least one stream
	Streams      int   // Total stream references
	TotalCreated int64 // Sessions created since start
	TotalEvicted int64 // Sessions evicted after their retention period
}

// NewRegistry creates a registry loading documents with loader and starts
// its eviction loop.
func NewRegistry(loader Loader, config *RegistryConfig, opts ...Option) *Registry {
	o := buildOptions(opts)
	r := &Registry{
		loader:      loader,
		config:      config.withDefaults(),
		opts:        o,
		logger:      o.logger.With("component", "registry"),
		sessions:    make(map[string]*Session),
		done:        make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Acquire returns the session for opts, creating it if needed, and takes
// a reference on it for the caller. Check and creation happen under one
// lock, so concurrent acquires of a new key share a single session.
// Every successful Acquire must be paired with Release.
func (r *Registry) Acquire(opts protocol.OpenOptions) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	key := opts.Key()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	s, ok := r.sessions[key]
	if !ok {
		if r.config.MaxSessions > 0 && len(r.sessions) >= r.config.MaxSessions {
			r.mu.Unlock()
			return nil, ErrMaxSessionsReached
		}
		s = newSession(key, opts, r.loader, r.config.Session, r.opts)
		r.sessions[key] = s
		r.totalCreated++
	}
	s.refs++
	s.idleSince = time.Time{}
	active := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		r.opts.metrics.sessionOpened()
		r.logger.Info("session created", "session_key", key, "active_sessions", active)
	}
	return s, nil
}

// Release drops a reference taken by Acquire. A session without
// references becomes eligible for eviction after RetainFor.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	if s.refs == 0 {
		s.idleSince = time.Now()
	}
}

// Get returns the session for key, or nil.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stats returns registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := RegistryStats{
		Active:       len(r.sessions),
		TotalCreated: r.totalCreated,
		TotalEvicted: r.totalEvicted,
	}
	for _, s := range r.sessions {
		if s.refs > 0 {
			stats.Referenced++
			stats.Streams += s.refs
		}
	}
	return stats
}

// cleanupLoop periodically evicts idle sessions.
func (r *Registry) cleanupLoop() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			r.evictIdle(now)
		case <-r.done:
			return
		}
	}
}

// evictIdle removes sessions that have had no references for RetainFor,
// persisting each one first.
func (r *Registry) evictIdle(now time.Time) int {
	if r.config.RetainFor < 0 {
		return 0
	}

	r.mu.Lock()
	var expired []*Session
	for key, s := range r.sessions {
		if s.refs == 0 && !s.idleSince.IsZero() && now.Sub(s.idleSince) >= r.config.RetainFor {
			expired = append(expired, s)
			delete(r.sessions, key)
		}
	}
	r.totalEvicted += int64(len(expired))
	r.mu.Unlock()

	for _, s := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.LoadTimeout)
		if err := s.close(ctx); err != nil {
			r.logger.Warn("persist on eviction failed", "session_key", s.key, "error", err)
		}
		cancel()
		r.opts.metrics.sessionClosed(true)
		r.logger.Info("session evicted", "session_key", s.key)
	}
	return len(expired)
}

// Shutdown stops the eviction loop and closes every session, persisting
// documents to the snapshot store. It returns ctx.Err() if ctx ends first.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	select {
	case <-r.cleanupDone:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.close(ctx); err != nil {
				r.logger.Warn("persist on shutdown failed", "session_key", s.key, "error", err)
			}
			r.opts.metrics.sessionClosed(false)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("registry shut down", "sessions", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
