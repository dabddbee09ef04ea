package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/wei"
)

func testEngine(t *testing.T, clk clock.Clock) (*Engine, *Store, *DailyTracker) {
	t.Helper()
	store := NewStore(membase.NewMemoryStore(), Default())
	tracker := NewDailyTracker(clk)
	return NewEngine(store, tracker), store, tracker
}

func mustParseBNB(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := wei.Parse(s)
	if !ok {
		t.Fatalf("bad BNB amount %q", s)
	}
	return v
}

// ============================================================
// Defaults and store
// ============================================================

func TestDefault(t *testing.T) {
	p := Default()
	if p.MaxSingleTx != wei.BNB(1).String() {
		t.Errorf("MaxSingleTx = %s, want 1 BNB in wei", p.MaxSingleTx)
	}
	if p.MaxDailySpend != wei.BNB(10).String() {
		t.Errorf("MaxDailySpend = %s, want 10 BNB in wei", p.MaxDailySpend)
	}
	if p.DailyTxLimit != 100 {
		t.Errorf("DailyTxLimit = %d, want 100", p.DailyTxLimit)
	}
	if p.AllowedAddresses != nil || p.DeniedAddresses != nil {
		t.Error("default policy should have no address lists")
	}
}

func TestStore_GetReturnsDefaults(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())

	p, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.MaxSingleTx != Default().MaxSingleTx {
		t.Errorf("fresh user policy = %+v, want defaults", p)
	}
}

func TestStore_GetIsIdempotent(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	ctx := context.Background()

	p1, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	p2, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	a, _ := json.Marshal(p1)
	b, _ := json.Marshal(p2)
	if string(a) != string(b) {
		t.Errorf("two Gets without a write differ: %s vs %s", a, b)
	}
}

func TestStore_SetSpendingLimit(t *testing.T) {
	mem := membase.NewMemoryStore()
	store := NewStore(mem, Default())
	ctx := context.Background()

	p, err := store.SetSpendingLimit(ctx, "alice", "5")
	if err != nil {
		t.Fatalf("SetSpendingLimit failed: %v", err)
	}
	if p.MaxDailySpend != wei.BNB(5).String() {
		t.Errorf("MaxDailySpend = %s, want 5 BNB in wei", p.MaxDailySpend)
	}
	// Other fields survive the merge.
	if p.MaxSingleTx != Default().MaxSingleTx {
		t.Errorf("MaxSingleTx changed by SetSpendingLimit: %s", p.MaxSingleTx)
	}

	// Persisted: a fresh store over the same membase sees the new limit.
	fresh := NewStore(mem, Default())
	got, err := fresh.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MaxDailySpend != wei.BNB(5).String() {
		t.Errorf("persisted MaxDailySpend = %s, want 5 BNB in wei", got.MaxDailySpend)
	}
}

func TestStore_SetSpendingLimit_Invalid(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	ctx := context.Background()

	for _, limit := range []string{"-1", "0", "abc", "1.2.3"} {
		if _, err := store.SetSpendingLimit(ctx, "alice", limit); err == nil {
			t.Errorf("SetSpendingLimit(%q) should fail", limit)
		}
	}
}

func TestStore_UpdateInvalidatesCache(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	ctx := context.Background()

	// Prime the cache.
	if _, err := store.Get(ctx, "alice"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.DeniedAddresses = []string{"0x000000000000000000000000000000000000dEaD"}
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.DeniedAddresses) != 1 {
		t.Errorf("cached policy served after write: %+v", got)
	}
}

// ============================================================
// Daily tracker
// ============================================================

func TestTracker_TodayKeyFormat(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 15, 30, 0, 0, time.UTC))
	tracker := NewDailyTracker(clk)

	if got := tracker.TodayKey(); got != "2026-03-07" {
		t.Errorf("TodayKey = %q, want 2026-03-07", got)
	}
}

func TestTracker_RecordAndUsage(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	tracker := NewDailyTracker(clk)

	count, spent := tracker.Usage("alice")
	if count != 0 || spent.Sign() != 0 {
		t.Fatalf("fresh usage = (%d, %s), want (0, 0)", count, spent)
	}

	tracker.RecordPayment("alice", wei.BNB(1), "0x1111111111111111111111111111111111111111")
	tracker.RecordPayment("alice", wei.BNB(2), "0x2222222222222222222222222222222222222222")

	count, spent = tracker.Usage("alice")
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if spent.Cmp(wei.BNB(3)) != 0 {
		t.Errorf("spent = %s, want 3 BNB", spent)
	}

	payments := tracker.Payments("alice")
	if len(payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(payments))
	}
	if payments[0].Amount != wei.BNB(1).String() {
		t.Errorf("payment[0].Amount = %s", payments[0].Amount)
	}

	// Other users unaffected.
	if count, _ := tracker.Usage("bob"); count != 0 {
		t.Errorf("bob count = %d, want 0", count)
	}
}

func TestTracker_RolloverResetsUsage(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC))
	tracker := NewDailyTracker(clk)

	tracker.RecordPayment("alice", wei.BNB(1), "0x1111111111111111111111111111111111111111")
	clk.Advance(2 * time.Hour) // past midnight

	count, spent := tracker.Usage("alice")
	if count != 0 || spent.Sign() != 0 {
		t.Errorf("usage after rollover = (%d, %s), want (0, 0)", count, spent)
	}
}

func TestTracker_ClearOldTracking(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC))
	tracker := NewDailyTracker(clk)

	tracker.RecordPayment("alice", wei.BNB(1), "0x1111111111111111111111111111111111111111")
	clk.Advance(24 * time.Hour)
	tracker.RecordPayment("alice", wei.BNB(1), "0x1111111111111111111111111111111111111111")
	tracker.RecordPayment("bob", wei.BNB(1), "0x1111111111111111111111111111111111111111")
	clk.Advance(24 * time.Hour)
	tracker.RecordPayment("bob", wei.BNB(2), "0x1111111111111111111111111111111111111111")

	removed := tracker.ClearOldTracking()
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	// Today's record survives.
	count, spent := tracker.Usage("bob")
	if count != 1 || spent.Cmp(wei.BNB(2)) != 0 {
		t.Errorf("bob usage = (%d, %s), want (1, 2 BNB)", count, spent)
	}

	// Idempotent.
	if removed := tracker.ClearOldTracking(); removed != 0 {
		t.Errorf("second clear removed %d, want 0", removed)
	}
}

// ============================================================
// Compliance engine
// ============================================================

func TestEngine_CompliantTransaction(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, _, _ := testEngine(t, clk)

	got, err := engine.CheckCompliance(context.Background(), Transaction{
		Amount:    mustParseBNB(t, "0.5"),
		Recipient: "0x1111111111111111111111111111111111111111",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if !got.Compliant {
		t.Errorf("compliant transaction rejected: %v", got.Violations)
	}
	if len(got.Violations) != 0 {
		t.Errorf("violations = %v, want none", got.Violations)
	}
}

func TestEngine_SingleTransactionLimit(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, store, _ := testEngine(t, clk)
	ctx := context.Background()

	// Policy {max_single_tx: 0.1 BNB}, transaction of 2.0.
	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.MaxSingleTx = mustParseBNB(t, "0.1").String()
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := engine.CheckCompliance(ctx, Transaction{
		Amount:    mustParseBNB(t, "2.0"),
		Recipient: "0x1111111111111111111111111111111111111111",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if got.Compliant {
		t.Fatal("2 BNB transaction passed a 0.1 BNB single-tx cap")
	}
	if !violationMentions(got.Violations, "single transaction limit") {
		t.Errorf("violations %v lack 'single transaction limit'", got.Violations)
	}
}

func TestEngine_DailySpendLimit(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, _, tracker := testEngine(t, clk)

	// Spend 9.5 of the 10 BNB daily default, then try 1 more.
	tracker.RecordPayment("alice", mustParseBNB(t, "9.5"), "0x1111111111111111111111111111111111111111")

	got, err := engine.CheckCompliance(context.Background(), Transaction{
		Amount:    wei.BNB(1),
		Recipient: "0x1111111111111111111111111111111111111111",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if got.Compliant {
		t.Fatal("transaction exceeding daily spend passed")
	}
	if !violationMentions(got.Violations, "daily spend limit") {
		t.Errorf("violations %v lack 'daily spend limit'", got.Violations)
	}
}

func TestEngine_DailyTransactionCount(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, store, tracker := testEngine(t, clk)
	ctx := context.Background()

	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.DailyTxLimit = 2
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	tracker.RecordPayment("alice", wei.BNB(0), "0x1111111111111111111111111111111111111111")
	tracker.RecordPayment("alice", wei.BNB(0), "0x1111111111111111111111111111111111111111")

	got, err := engine.CheckCompliance(ctx, Transaction{
		Amount:    mustParseBNB(t, "0.01"),
		Recipient: "0x1111111111111111111111111111111111111111",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if got.Compliant {
		t.Fatal("transaction beyond daily count passed")
	}
	if !violationMentions(got.Violations, "daily transaction count") {
		t.Errorf("violations %v lack 'daily transaction count'", got.Violations)
	}
}

func TestEngine_Denylist(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, store, _ := testEngine(t, clk)
	ctx := context.Background()

	bad := "0x000000000000000000000000000000000000dEaD"
	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.DeniedAddresses = []string{bad}
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := engine.CheckCompliance(ctx, Transaction{
		Amount: mustParseBNB(t, "0.01"),
		// Case differs from the stored entry; matching is case-insensitive.
		Recipient: strings.ToLower(bad),
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if got.Compliant {
		t.Fatal("denylisted recipient passed")
	}
	if !violationMentions(got.Violations, "denylist") {
		t.Errorf("violations %v lack 'denylist'", got.Violations)
	}
}

func TestEngine_Allowlist(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, store, _ := testEngine(t, clk)
	ctx := context.Background()

	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.AllowedAddresses = []string{"0x1111111111111111111111111111111111111111"}
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Recipient on the allowlist passes.
	got, err := engine.CheckCompliance(ctx, Transaction{
		Amount:    mustParseBNB(t, "0.01"),
		Recipient: "0x1111111111111111111111111111111111111111",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if !got.Compliant {
		t.Errorf("allowlisted recipient rejected: %v", got.Violations)
	}

	// Recipient off the allowlist fails.
	got, err = engine.CheckCompliance(ctx, Transaction{
		Amount:    mustParseBNB(t, "0.01"),
		Recipient: "0x2222222222222222222222222222222222222222",
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if got.Compliant {
		t.Fatal("recipient off allowlist passed")
	}
	if !violationMentions(got.Violations, "allowlist") {
		t.Errorf("violations %v lack 'allowlist'", got.Violations)
	}
}

func TestEngine_ViolationOrderIsDeterministic(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC))
	engine, store, tracker := testEngine(t, clk)
	ctx := context.Background()

	bad := "0x2222222222222222222222222222222222222222"
	if _, err := store.Update(ctx, "alice", func(p *Policy) {
		p.AllowedAddresses = []string{"0x1111111111111111111111111111111111111111"}
		p.DeniedAddresses = []string{bad}
		p.MaxSingleTx = mustParseBNB(t, "0.1").String()
		p.MaxDailySpend = mustParseBNB(t, "0.2").String()
		p.DailyTxLimit = 1
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	tracker.RecordPayment("alice", mustParseBNB(t, "0.2"), bad)

	got, err := engine.CheckCompliance(ctx, Transaction{
		Amount:    wei.BNB(1),
		Recipient: bad,
	}, "alice")
	if err != nil {
		t.Fatalf("CheckCompliance failed: %v", err)
	}
	if len(got.Violations) != 5 {
		t.Fatalf("violations = %d, want all 5:\n%v", len(got.Violations), got.Violations)
	}

	wantOrder := []string{
		"allowlist",
		"denylist",
		"single transaction limit",
		"daily spend limit",
		"daily transaction count",
	}
	for i, substr := range wantOrder {
		if !strings.Contains(got.Violations[i], substr) {
			t.Errorf("violation[%d] = %q, want mention of %q", i, got.Violations[i], substr)
		}
	}
}

func violationMentions(violations []string, substr string) bool {
	for _, v := range violations {
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}

// ============================================================
// Violation error
// ============================================================

func TestViolationError_Message(t *testing.T) {
	err := &ViolationError{UserID: "alice", Violations: []string{"recipient on denylist: 0xdead"}}
	if !strings.Contains(err.Error(), "Policy violation") {
		t.Errorf("error %q lacks 'Policy violation'", err.Error())
	}
	if !strings.Contains(err.Error(), "denylist") {
		t.Errorf("error %q lacks the violation text", err.Error())
	}
}

// ============================================================
// HTTP handlers
// ============================================================

type recordingAudit struct {
	calls []map[string]any
	err   error
}

func (r *recordingAudit) LogPolicyChange(_ context.Context, userID string, changes map[string]any) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, changes)
	return nil
}

func setupRouter(store *Store, audit ChangeLogger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, audit).RegisterRoutes(r.Group("/api/policy"))
	return r
}

func TestHandler_SetLimit(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	auditor := &recordingAudit{}
	r := setupRouter(store, auditor)

	body := bytes.NewBufferString(`{"userId":"alice","limitBNB":5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/policy/set-limit", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success          bool   `json:"success"`
		MaxDailySpendBNB string `json:"max_daily_spend_bnb"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if !resp.Success || resp.MaxDailySpendBNB != "5" {
		t.Errorf("response = %+v", resp)
	}
	if len(auditor.calls) != 1 {
		t.Errorf("policy change not audit-logged")
	}
}

func TestHandler_SetLimit_BadRequests(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	r := setupRouter(store, &recordingAudit{})

	tests := []struct {
		name string
		body string
	}{
		{"missing userId", `{"limitBNB":5}`},
		{"missing limit", `{"userId":"alice"}`},
		{"negative limit", `{"userId":"alice","limitBNB":-5}`},
		{"zero limit", `{"userId":"alice","limitBNB":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/policy/set-limit", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandler_SetLimit_AuditFailureIsFatal(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	auditor := &recordingAudit{err: context.DeadlineExceeded}
	r := setupRouter(store, auditor)

	body := bytes.NewBufferString(`{"userId":"alice","limitBNB":5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/policy/set-limit", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when the audit write fails", w.Code)
	}
}

func TestHandler_GetPolicy(t *testing.T) {
	store := NewStore(membase.NewMemoryStore(), Default())
	r := setupRouter(store, &recordingAudit{})

	req := httptest.NewRequest(http.MethodGet, "/api/policy/alice", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		UserID string `json:"user_id"`
		Policy Policy `json:"policy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.UserID != "alice" || resp.Policy.DailyTxLimit != 100 {
		t.Errorf("response = %+v", resp)
	}
}
