package policy

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/quacklabs/paygate/internal/clock"
)

// PaymentSummary is one recorded payment inside a daily tracking record.
type PaymentSummary struct {
	Amount    string    `json:"amount"` // wei integer string
	Recipient string    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
}

// dayRecord accumulates one user's activity for one calendar day.
type dayRecord struct {
	TxCount  int
	Spent    *big.Int
	Payments []PaymentSummary
}

// DailyTracker keeps per-user, per-calendar-day counters of transaction
// count and amount spent. Records are created lazily on the first payment of
// the day and purged once their date is no longer today.
type DailyTracker struct {
	clk clock.Clock

	mu   sync.RWMutex
	days map[string]*dayRecord // key: "user_id:YYYY-MM-DD"
}

// NewDailyTracker creates a tracker using the given clock.
func NewDailyTracker(clk clock.Clock) *DailyTracker {
	return &DailyTracker{
		clk:  clk,
		days: make(map[string]*dayRecord),
	}
}

// TodayKey returns today's calendar date as YYYY-MM-DD in the clock's zone.
func (t *DailyTracker) TodayKey() string {
	return t.clk.Now().Format("2006-01-02")
}

func (t *DailyTracker) key(userID string) string {
	return userID + ":" + t.TodayKey()
}

// Usage returns today's transaction count and total spent for a user.
func (t *DailyTracker) Usage(userID string) (int, *big.Int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.days[t.key(userID)]
	if !ok {
		return 0, big.NewInt(0)
	}
	return rec.TxCount, new(big.Int).Set(rec.Spent)
}

// Payments returns a copy of today's payment summaries for a user.
func (t *DailyTracker) Payments(userID string) []PaymentSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.days[t.key(userID)]
	if !ok {
		return nil
	}
	return append([]PaymentSummary(nil), rec.Payments...)
}

// RecordPayment adds a successfully executed payment to today's record.
// Never called speculatively; only after execution succeeds.
func (t *DailyTracker) RecordPayment(userID string, amount *big.Int, recipient string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.key(userID)
	rec, ok := t.days[key]
	if !ok {
		rec = &dayRecord{Spent: big.NewInt(0)}
		t.days[key] = rec
	}
	rec.TxCount++
	rec.Spent.Add(rec.Spent, amount)
	rec.Payments = append(rec.Payments, PaymentSummary{
		Amount:    amount.String(),
		Recipient: recipient,
		Timestamp: t.clk.Now(),
	})
}

// ClearOldTracking removes every record whose date is not today. Idempotent;
// safe to call opportunistically. Returns the number of records removed.
func (t *DailyTracker) ClearOldTracking() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	suffix := ":" + t.TodayKey()
	removed := 0
	for key := range t.days {
		if !strings.HasSuffix(key, suffix) {
			delete(t.days, key)
			removed++
		}
	}
	return removed
}
