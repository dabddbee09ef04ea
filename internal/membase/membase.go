// Package membase is the memory/persistence collaborator: a narrow
// record-oriented interface over the decentralized memory service. The core
// only stores records into named collections, queries them back with
// exact-match filters, and reads/writes per-user preference maps.
package membase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("membase: not found")
)

// StorageError wraps persistence failures. Callers treat it as fatal to the
// operation in flight; there is no core-side retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("membase: %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Record is one stored document.
type Record map[string]any

// Store is the persistence collaborator interface.
type Store interface {
	// Store appends a record to a collection.
	Store(ctx context.Context, collection string, record Record) error
	// QueryMemory returns records matching all filters (exact match per
	// field), newest first, truncated to limit (0 = no limit).
	QueryMemory(ctx context.Context, collection string, filters map[string]any, limit int) ([]Record, error)
	// GetUserPreferences returns all stored preference values for a user.
	// A user with no preferences yields an empty map, not an error.
	GetUserPreferences(ctx context.Context, userID string) (map[string]json.RawMessage, error)
	// StoreUserPreference upserts one preference value for a user.
	StoreUserPreference(ctx context.Context, userID, key string, value json.RawMessage) error
}

// matches reports whether a record satisfies every filter field.
// JSON round-trips turn numbers into float64, so numeric filter values
// are compared through a float64 normalization.
func matches(r Record, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := r[k]
		if !ok {
			return false
		}
		if !valueEqual(got, want) {
			return false
		}
	}
	return true
}

func valueEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
		return false
	}
	if gt, ok := got.(time.Time); ok {
		if wt, ok := want.(time.Time); ok {
			return gt.Equal(wt)
		}
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
