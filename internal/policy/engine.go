package policy

import (
	"context"
	"fmt"
	"math/big"

	"github.com/quacklabs/paygate/internal/metrics"
	"github.com/quacklabs/paygate/internal/wei"
)

// Transaction is the candidate payment evaluated by the engine.
type Transaction struct {
	Amount    *big.Int // wei
	Recipient string
}

// Compliance is the engine's verdict: compliant iff no violations.
type Compliance struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations"`
}

// Engine evaluates candidate transactions against the user's policy plus
// today's tracked usage.
type Engine struct {
	store   *Store
	tracker *DailyTracker
}

// NewEngine creates a policy engine.
func NewEngine(store *Store, tracker *DailyTracker) *Engine {
	return &Engine{store: store, tracker: tracker}
}

// Store returns the underlying policy store.
func (e *Engine) Store() *Store { return e.store }

// Tracker returns the underlying daily tracker.
func (e *Engine) Tracker() *DailyTracker { return e.tracker }

// CheckCompliance runs all five checks in a fixed order and returns every
// violation. The order is part of the contract: callers and tests rely on
// deterministic violation messages.
func (e *Engine) CheckCompliance(ctx context.Context, tx Transaction, userID string) (*Compliance, error) {
	p, err := e.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	txCount, spent := e.tracker.Usage(userID)

	var violations []string

	// 1. Allowlist: when present and non-empty, the recipient must be on it.
	if len(p.AllowedAddresses) > 0 && !containsAddress(p.AllowedAddresses, tx.Recipient) {
		violations = append(violations,
			fmt.Sprintf("recipient not on allowlist: %s", tx.Recipient))
	}

	// 2. Denylist.
	if containsAddress(p.DeniedAddresses, tx.Recipient) {
		violations = append(violations,
			fmt.Sprintf("recipient on denylist: %s", tx.Recipient))
	}

	// 3. Single transaction cap.
	maxSingle := p.maxSingleTxWei()
	if tx.Amount.Cmp(maxSingle) > 0 {
		violations = append(violations,
			fmt.Sprintf("amount %s BNB exceeds single transaction limit %s BNB",
				wei.Format(tx.Amount), wei.Format(maxSingle)))
	}

	// 4. Daily spend cap: spent so far + this amount.
	maxDaily := p.maxDailySpendWei()
	projected := new(big.Int).Add(spent, tx.Amount)
	if projected.Cmp(maxDaily) > 0 {
		violations = append(violations,
			fmt.Sprintf("daily total %s BNB exceeds daily spend limit %s BNB",
				wei.Format(projected), wei.Format(maxDaily)))
	}

	// 5. Daily transaction count.
	if txCount >= p.DailyTxLimit {
		violations = append(violations,
			fmt.Sprintf("%d transactions today exceeds daily transaction count limit %d",
				txCount, p.DailyTxLimit))
	}

	if n := len(violations); n > 0 {
		metrics.PolicyViolationsTotal.Add(float64(n))
	}

	return &Compliance{
		Compliant:  len(violations) == 0,
		Violations: violations,
	}, nil
}
