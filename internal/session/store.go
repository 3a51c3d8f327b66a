package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amillerrr/gif-pipeline/internal/logger"
	"github.com/amillerrr/gif-pipeline/internal/metrics"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	Root            string
	TTL             time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// Store tracks live sessions and expires idle ones.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   StoreConfig
	log      *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewStore creates a Store and starts its expiry loop.
func NewStore(cfg StoreConfig) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = max(cfg.TTL/4, time.Second)
	}

	st := &Store{
		sessions: make(map[string]*Session),
		config:   cfg,
		log:      logger.OrDefault(cfg.Logger),
		stopCh:   make(chan struct{}),
	}

	go st.cleanup()

	return st
}

func (st *Store) cleanup() {
	ticker := time.NewTicker(st.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stopCh:
			return
		case now := <-ticker.C:
			st.Expire(now)
		}
	}
}

// Create starts a new session.
func (st *Store) Create() (*Session, error) {
	s, err := New(st.config.Root)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	st.mu.Unlock()

	logger.Info(context.Background(), st.log, "Session created", "sessionId", s.ID)
	return s, nil
}

// Get returns a live session and marks it used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if ok {
		s.Touch()
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating a new one when it is
// unknown or expired.
func (st *Store) GetOrCreate(id string) (*Session, error) {
	if s, ok := st.Get(id); ok {
		return s, nil
	}
	return st.Create()
}

// Delete closes and forgets a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	st.mu.Unlock()

	if ok {
		if err := s.Close(); err != nil {
			logger.Warn(context.Background(), st.log, "Failed to remove session files", "sessionId", id, "error", err)
		}
	}
}

// Expire removes sessions idle for longer than the TTL and returns how
// many were removed.
func (st *Store) Expire(now time.Time) int {
	var expired []string

	st.mu.RLock()
	for id, s := range st.sessions {
		if now.Sub(s.LastUsed()) > st.config.TTL {
			expired = append(expired, id)
		}
	}
	st.mu.RUnlock()

	for _, id := range expired {
		st.Delete(id)
	}
	if len(expired) > 0 {
		logger.Info(context.Background(), st.log, "Expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Stop ends the expiry loop and removes every session.
func (st *Store) Stop() {
	st.stopOnce.Do(func() {
		close(st.stopCh)
	})

	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	for _, id := range ids {
		st.Delete(id)
	}
}
