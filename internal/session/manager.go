// Package session keeps one workflow controller per visitor and evicts the
// ones nobody has touched for a while.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/optic/internal/logging"
	"github.com/example/optic/internal/workflow"
)

// ErrNotFound is returned for an unknown or evicted session.
var ErrNotFound = errors.New("session not found")

// ControllerFactory builds the controller for a new session.
type ControllerFactory func(sessionID string, observer workflow.Observer) *workflow.Controller

// Session binds a visitor to their workflow.
type Session struct {
	ID         string
	Controller *workflow.Controller
	CreatedAt  time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Manager owns every live session.
type Manager struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	newController ControllerFactory
	idleTTL       time.Duration
	now           func() time.Time
	logger        *zap.Logger
	stats         *counters
}

// NewManager constructs a Manager. idleTTL <= 0 disables eviction.
func NewManager(factory ControllerFactory, idleTTL time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		newController: factory,
		idleTTL:       idleTTL,
		now:           time.Now,
		logger:        logger.Named("session_manager"),
		stats:         &counters{},
	}
}

// Create starts a new session in Idle.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	now := m.now()
	s := &Session{
		ID:         id,
		Controller: m.newController(id, m.stats),
		CreatedAt:  now,
		lastSeen:   now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logging.WithOperation(m.logger, "session.create", id).Debug("session created")
	return s
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Evict resets and removes sessions idle for longer than the TTL.
func (m *Manager) Evict() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Controller.Reset()
		logging.WithOperation(m.logger, "session.evict", s.ID).Debug("session evicted")
	}
	if len(expired) > 0 {
		m.logger.Info("evicted idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}

// Close resets every session and forgets them.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Controller.Reset()
	}
}
