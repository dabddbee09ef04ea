package session

import (
	"time"

	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/idgen"
	"github.com/quacklabs/paygate/internal/metrics"
	"github.com/quacklabs/paygate/internal/syncutil"
)

// DefaultTTL is the session lifetime.
const DefaultTTL = time.Hour

// Manager creates and tracks payment sessions. Sessions are keyed by
// session_id; nonces are keyed by user_id. Nonce issuance and session
// consumption run under a per-user lock so two concurrent preparations can
// never share a nonce or consume the same session twice.
type Manager struct {
	sessions SessionStore
	nonces   NonceStore
	clk      clock.Clock
	ttl      time.Duration
	locks    syncutil.ShardedMutex
}

// NewManager creates a session manager.
func NewManager(sessions SessionStore, nonces NonceStore, clk clock.Clock, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		sessions: sessions,
		nonces:   nonces,
		clk:      clk,
		ttl:      ttl,
	}
}

// Initialize creates a new active session for a user and agent, issuing the
// user's next nonce.
func (m *Manager) Initialize(userID, agentAddress string) (*Session, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.clk.Now()
	s := &Session{
		ID:           idgen.WithPrefix("ps_"),
		UserID:       userID,
		AgentAddress: agentAddress,
		Nonce:        m.nonces.Next(userID),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		Status:       StatusActive,
	}
	m.sessions.Save(s)
	metrics.SessionsInitializedTotal.Inc()
	return s, nil
}

// Get returns a session by ID, applying the lazy expiry check: a session
// past its TTL is marked expired and reported as ErrExpired.
func (m *Manager) Get(sessionID string) (*Session, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusActive && m.clk.Now().After(s.ExpiresAt) {
		s.Status = StatusExpired
		m.sessions.Save(s)
	}
	if s.Status == StatusExpired {
		return s, ErrExpired
	}
	return s, nil
}

// Consume atomically marks an active session consumed. Expired or already
// consumed sessions fail; the check and the mark run under the per-user lock.
func (m *Manager) Consume(sessionID string) (*Session, error) {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	unlock := m.locks.Lock(s.UserID)
	defer unlock()

	// Re-fetch under the lock; another preparation may have won the race.
	s, ok = m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	switch {
	case s.Status == StatusConsumed:
		return nil, ErrConsumed
	case s.Status == StatusExpired || m.clk.Now().After(s.ExpiresAt):
		s.Status = StatusExpired
		m.sessions.Save(s)
		return nil, ErrExpired
	}

	s.Status = StatusConsumed
	m.sessions.Save(s)
	return s, nil
}

// NextNonce issues the next nonce for a user outside of session creation.
func (m *Manager) NextNonce(userID string) int64 {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.nonces.Next(userID)
}

// LastNonce returns the most recently issued nonce for a user (0 if none).
func (m *Manager) LastNonce(userID string) int64 {
	return m.nonces.Last(userID)
}
