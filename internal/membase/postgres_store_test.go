package membase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/quacklabs/paygate/internal/testutil"
)

func TestPostgresStore_StoreAndQuery(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	for i, user := range []string{"alice", "bob", "alice"} {
		err := s.Store(ctx, "payments", Record{"user_id": user, "seq": i})
		if err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	got, err := s.QueryMemory(ctx, "payments", map[string]any{"user_id": "alice"}, 0)
	if err != nil {
		t.Fatalf("QueryMemory failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Newest first; JSONB round-trips numbers as float64
	if got[0]["seq"] != float64(2) {
		t.Errorf("first record seq = %v, want 2", got[0]["seq"])
	}
}

func TestPostgresStore_QueryLimit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.Store(ctx, "audit_logs", Record{"user_id": "alice", "seq": i}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	got, err := s.QueryMemory(ctx, "audit_logs", nil, 3)
	if err != nil {
		t.Fatalf("QueryMemory failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	if got[0]["seq"] != float64(9) {
		t.Errorf("first record seq = %v, want 9 (newest first)", got[0]["seq"])
	}
}

func TestPostgresStore_CollectionsAreIsolated(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	if err := s.Store(ctx, "payments", Record{"user_id": "alice"}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := s.QueryMemory(ctx, "audit_logs", nil, 0)
	if err != nil {
		t.Fatalf("QueryMemory failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d records from other collection, want 0", len(got))
	}
}

func TestPostgresStore_Preferences(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	// Empty map, not an error, for an unknown user
	prefs, err := s.GetUserPreferences(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUserPreferences failed: %v", err)
	}
	if len(prefs) != 0 {
		t.Errorf("got %d preferences for unknown user, want 0", len(prefs))
	}

	if err := s.StoreUserPreference(ctx, "alice", "payment_policy", json.RawMessage(`{"daily_tx_limit":50}`)); err != nil {
		t.Fatalf("StoreUserPreference failed: %v", err)
	}

	// Upsert replaces the prior value
	if err := s.StoreUserPreference(ctx, "alice", "payment_policy", json.RawMessage(`{"daily_tx_limit":75}`)); err != nil {
		t.Fatalf("StoreUserPreference upsert failed: %v", err)
	}

	prefs, err = s.GetUserPreferences(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserPreferences failed: %v", err)
	}
	raw, ok := prefs["payment_policy"]
	if !ok {
		t.Fatal("payment_policy preference missing")
	}
	var policy struct {
		DailyTxLimit int `json:"daily_tx_limit"`
	}
	if err := json.Unmarshal(raw, &policy); err != nil {
		t.Fatalf("unmarshal preference: %v", err)
	}
	if policy.DailyTxLimit != 75 {
		t.Errorf("daily_tx_limit = %d, want 75 (upsert should replace)", policy.DailyTxLimit)
	}
}
