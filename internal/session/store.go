package session

import (
	"crypto/rand"
	"math/big"
	"sync"
)

// SessionStore holds sessions keyed by session_id. State is process-local by
// design; a multi-instance deployment needs an external implementation.
type SessionStore interface {
	Save(s *Session)
	Get(id string) (*Session, bool)
}

// NonceStore issues per-user strictly increasing nonces. The first nonce for
// a user is seeded from a random non-zero base; every later one increments.
type NonceStore interface {
	Next(userID string) int64
	Last(userID string) int64
}

// MemorySessionStore is the in-process session store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Save(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
}

func (m *MemorySessionStore) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

var _ SessionStore = (*MemorySessionStore)(nil)

// nonceSeedMax bounds the random first nonce to 1..2^31-1 so plenty of
// headroom remains below int64 overflow.
var nonceSeedMax = big.NewInt(1<<31 - 1)

// MemoryNonceStore is the in-process nonce store.
type MemoryNonceStore struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{last: make(map[string]int64)}
}

func (m *MemoryNonceStore) Next(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.last[userID]
	if !ok {
		next = randomSeed()
	} else {
		next++
	}
	m.last[userID] = next
	return next
}

func (m *MemoryNonceStore) Last(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[userID]
}

func randomSeed() int64 {
	n, err := rand.Int(rand.Reader, nonceSeedMax)
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return n.Int64() + 1 // never zero
}

var _ NonceStore = (*MemoryNonceStore)(nil)
