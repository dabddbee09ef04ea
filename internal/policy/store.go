package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/syncutil"
	"github.com/quacklabs/paygate/internal/wei"
)

// Store loads, caches, and persists per-user policies. Persistence is
// delegated to membase under the payment_policy preference key; the local
// cache is invalidated on every write.
type Store struct {
	mem      membase.Store
	defaults Policy

	mu    sync.RWMutex
	cache map[string]Policy
	locks syncutil.ShardedMutex
}

// NewStore creates a policy store over the membase collaborator.
func NewStore(mem membase.Store, defaults Policy) *Store {
	return &Store{
		mem:      mem,
		defaults: defaults,
		cache:    make(map[string]Policy),
	}
}

// Get returns the user's effective policy: cache hit, else the stored
// preference, else the documented defaults.
func (s *Store) Get(ctx context.Context, userID string) (Policy, error) {
	s.mu.RLock()
	if p, ok := s.cache[userID]; ok {
		s.mu.RUnlock()
		return p.clone(), nil
	}
	s.mu.RUnlock()

	prefs, err := s.mem.GetUserPreferences(ctx, userID)
	if err != nil {
		return Policy{}, err
	}

	p := s.defaults.clone()
	if raw, ok := prefs[PreferenceKey]; ok {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Policy{}, fmt.Errorf("policy: corrupt stored policy for %s: %w", userID, err)
		}
	}

	s.mu.Lock()
	s.cache[userID] = p.clone()
	s.mu.Unlock()

	return p, nil
}

// Update loads the user's current policy, applies mutate, persists the
// result, and invalidates the cache. Returns the updated policy. The
// read-modify-write runs under a per-user lock so concurrent updates
// cannot drop each other's changes.
func (s *Store) Update(ctx context.Context, userID string, mutate func(*Policy)) (Policy, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.Get(ctx, userID)
	if err != nil {
		return Policy{}, err
	}

	mutate(&p)

	raw, err := json.Marshal(p)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: marshal policy: %w", err)
	}
	if err := s.mem.StoreUserPreference(ctx, userID, PreferenceKey, raw); err != nil {
		return Policy{}, err
	}

	s.Invalidate(userID)
	return p, nil
}

// ErrInvalidLimit rejects non-positive or malformed spending limits.
var ErrInvalidLimit = errors.New("policy: invalid spending limit")

// SetSpendingLimit converts a BNB daily limit to wei and merges it into the
// user's stored policy.
func (s *Store) SetSpendingLimit(ctx context.Context, userID, limitBNB string) (Policy, error) {
	limit, ok := wei.Parse(limitBNB)
	if !ok || limit.Sign() <= 0 {
		return Policy{}, fmt.Errorf("%w: %q", ErrInvalidLimit, limitBNB)
	}
	return s.Update(ctx, userID, func(p *Policy) {
		p.MaxDailySpend = limit.String()
	})
}

// Invalidate removes a user's cached policy. Call after any external write.
func (s *Store) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}
