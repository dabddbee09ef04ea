package membase

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory membase implementation for tests and demo mode.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
	preferences map[string]map[string]json.RawMessage
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Record),
		preferences: make(map[string]map[string]json.RawMessage),
	}
}

func (m *MemoryStore) Store(_ context.Context, collection string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make(Record, len(record))
	for k, v := range record {
		cp[k] = v
	}
	m.collections[collection] = append(m.collections[collection], cp)
	return nil
}

func (m *MemoryStore) QueryMemory(_ context.Context, collection string, filters map[string]any, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.collections[collection]
	var result []Record
	// Newest first: walk the append-order slice backwards.
	for i := len(records) - 1; i >= 0; i-- {
		if filters != nil && !matches(records[i], filters) {
			continue
		}
		cp := make(Record, len(records[i]))
		for k, v := range records[i] {
			cp[k] = v
		}
		result = append(result, cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) GetUserPreferences(_ context.Context, userID string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefs := m.preferences[userID]
	result := make(map[string]json.RawMessage, len(prefs))
	for k, v := range prefs {
		result[k] = append(json.RawMessage(nil), v...)
	}
	return result, nil
}

func (m *MemoryStore) StoreUserPreference(_ context.Context, userID, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.preferences[userID] == nil {
		m.preferences[userID] = make(map[string]json.RawMessage)
	}
	m.preferences[userID][key] = append(json.RawMessage(nil), value...)
	return nil
}

var _ Store = (*MemoryStore)(nil)
