package risk

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/metrics"
	"github.com/quacklabs/paygate/internal/wei"
)

const (
	// DefaultGasWindow is how many recent gas prices feed the drift check.
	DefaultGasWindow = 100

	// DefaultDailyTxThreshold is the per-day count above which the
	// frequency check fires.
	DefaultDailyTxThreshold = 50

	// historyLimit bounds how many past payments feed the amount check.
	historyLimit = 50

	paymentsCollection = "payments"
)

// ZeroAddress is always in the known-bad set.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// ChainReader is the subset of the blockchain collaborator the assessor
// needs. *chain.Client satisfies it.
type ChainReader interface {
	GetGasPrice(ctx context.Context) (*chain.GasPrice, error)
	GetBalance(ctx context.Context, address string) (*chain.Balance, error)
	EstimateGas(ctx context.Context, from, to string, amount *big.Int) (*chain.GasEstimate, error)
}

// FrequencySource reports today's usage for a user. *policy.DailyTracker
// satisfies it.
type FrequencySource interface {
	Usage(userID string) (count int, spent *big.Int)
}

// Option configures the assessor.
type Option func(*Assessor)

// WithBadAddresses adds addresses to the known-bad set.
func WithBadAddresses(addrs ...string) Option {
	return func(a *Assessor) {
		for _, addr := range addrs {
			a.bad[strings.ToLower(addr)] = struct{}{}
		}
	}
}

// WithGasWindow overrides the rolling gas window size.
func WithGasWindow(n int) Option {
	return func(a *Assessor) {
		if n > 0 {
			a.windowSize = n
		}
	}
}

// Assessor scores pending transactions. All checks are advisory except the
// bad-address check, which forces CRITICAL and blocks execution.
type Assessor struct {
	mem   membase.Store
	chain ChainReader
	freq  FrequencySource
	clk   clock.Clock

	bad        map[string]struct{}
	windowSize int

	mu        sync.Mutex
	gasWindow []*big.Int
}

// NewAssessor creates an assessor. The known-bad set always contains the
// zero address.
func NewAssessor(mem membase.Store, chainReader ChainReader, freq FrequencySource, clk clock.Clock, opts ...Option) *Assessor {
	a := &Assessor{
		mem:        mem,
		chain:      chainReader,
		freq:       freq,
		clk:        clk,
		bad:        map[string]struct{}{ZeroAddress: {}},
		windowSize: DefaultGasWindow,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordGasPrice feeds one observed gas price into the rolling window.
func (a *Assessor) RecordGasPrice(price *big.Int) {
	if price == nil || price.Sign() <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gasWindow = append(a.gasWindow, new(big.Int).Set(price))
	if len(a.gasWindow) > a.windowSize {
		a.gasWindow = a.gasWindow[len(a.gasWindow)-a.windowSize:]
	}
}

// windowAverage returns the mean of the rolling window, or nil when empty.
func (a *Assessor) windowAverage() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.gasWindow) == 0 {
		return nil
	}
	sum := new(big.Int)
	for _, p := range a.gasWindow {
		sum.Add(sum, p)
	}
	return sum.Div(sum, big.NewInt(int64(len(a.gasWindow))))
}

// AssessTransaction runs every check and aggregates their warnings. The
// level is the maximum triggered severity; a known-bad address forces
// CRITICAL. Chain read failures degrade gracefully (the affected check is
// skipped); history read failures are returned as errors.
func (a *Assessor) AssessTransaction(ctx context.Context, tx *Transaction) (*Assessment, error) {
	var warnings []Warning
	add := func(w *Warning) {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	badHit := a.checkAddress(tx)
	add(badHit)
	add(a.checkGasPrice(ctx, tx))

	amountWarning, err := a.checkAmount(ctx, tx)
	if err != nil {
		return nil, err
	}
	add(amountWarning)

	add(a.checkBalance(ctx, tx))
	add(a.checkFrequency(tx))
	add(a.checkSuspiciousPatterns(tx))

	level := SeverityLow
	for _, w := range warnings {
		if rank(w.Severity) > rank(level) {
			level = w.Severity
		}
	}
	if badHit != nil {
		level = SeverityCritical
	}

	metrics.RiskAssessmentsTotal.WithLabelValues(string(level)).Inc()

	return &Assessment{
		RiskLevel:  level,
		Warnings:   warnings,
		CanExecute: level != SeverityCritical,
	}, nil
}

// checkAddress flags any party in the known-bad set.
func (a *Assessor) checkAddress(tx *Transaction) *Warning {
	for _, addr := range []string{tx.Recipient, tx.Sender} {
		if addr == "" {
			continue
		}
		if _, ok := a.bad[strings.ToLower(addr)]; ok {
			return &Warning{
				Type:     WarningBadAddress,
				Severity: SeverityCritical,
				Message:  "address " + strings.ToLower(addr) + " is on the known-bad list",
			}
		}
	}
	return nil
}

// checkGasPrice flags a price above 1.5x the rolling window average.
func (a *Assessor) checkGasPrice(ctx context.Context, tx *Transaction) *Warning {
	price := tx.GasPrice
	if price == nil || price.Sign() == 0 {
		current, err := a.chain.GetGasPrice(ctx)
		if err != nil {
			return nil
		}
		price = current.Wei
	}

	avg := a.windowAverage()
	a.RecordGasPrice(price)
	if avg == nil || avg.Sign() == 0 {
		return nil
	}

	// price > avg * 3/2, kept in integer arithmetic.
	threshold := new(big.Int).Mul(avg, big.NewInt(3))
	threshold.Div(threshold, big.NewInt(2))
	if price.Cmp(threshold) > 0 {
		return &Warning{
			Type:     WarningHighGasPrice,
			Severity: SeverityMedium,
			Message:  "gas price " + wei.Format(price) + " exceeds 1.5x the recent average",
		}
	}
	return nil
}

// checkAmount flags an amount above twice the user's historical mean.
func (a *Assessor) checkAmount(ctx context.Context, tx *Transaction) (*Warning, error) {
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return nil, nil
	}
	records, err := a.mem.QueryMemory(ctx, paymentsCollection, map[string]any{"user_id": tx.UserID}, historyLimit)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	sum := new(big.Int)
	n := 0
	for _, r := range records {
		s, ok := r["amount"].(string)
		if !ok {
			continue
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			continue
		}
		sum.Add(sum, v)
		n++
	}
	if n == 0 {
		return nil, nil
	}

	mean := new(big.Int).Div(sum, big.NewInt(int64(n)))
	threshold := new(big.Int).Mul(mean, big.NewInt(2))
	if tx.Amount.Cmp(threshold) > 0 {
		return &Warning{
			Type:     WarningUnusualAmount,
			Severity: SeverityMedium,
			Message:  "amount " + wei.Format(tx.Amount) + " BNB exceeds 2x the historical average of " + wei.Format(mean) + " BNB",
		}, nil
	}
	return nil, nil
}

// checkBalance flags when the sender cannot cover amount plus estimated fee.
func (a *Assessor) checkBalance(ctx context.Context, tx *Transaction) *Warning {
	if tx.Sender == "" || tx.Amount == nil {
		return nil
	}
	balance, err := a.chain.GetBalance(ctx, tx.Sender)
	if err != nil {
		return nil
	}
	estimate, err := a.chain.EstimateGas(ctx, tx.Sender, tx.Recipient, tx.Amount)
	if err != nil {
		return nil
	}

	required := new(big.Int).Add(tx.Amount, estimate.FeeWei)
	if balance.Wei.Cmp(required) < 0 {
		return &Warning{
			Type:     WarningInsufficientBalance,
			Severity: SeverityHigh,
			Message:  "balance " + wei.Format(balance.Wei) + " BNB cannot cover " + wei.Format(required) + " BNB (amount plus fee)",
		}
	}
	return nil
}

// checkFrequency flags users past the daily transaction threshold.
func (a *Assessor) checkFrequency(tx *Transaction) *Warning {
	count, _ := a.freq.Usage(tx.UserID)
	if count > DefaultDailyTxThreshold {
		return &Warning{
			Type:     WarningHighFrequency,
			Severity: SeverityHigh,
			Message:  "user has made an unusually high number of transactions today",
		}
	}
	return nil
}

// checkSuspiciousPatterns flags round whole-token amounts, a common bot
// fingerprint.
func (a *Assessor) checkSuspiciousPatterns(tx *Transaction) *Warning {
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return nil
	}
	rem := new(big.Int).Mod(tx.Amount, wei.BNB(1))
	if rem.Sign() == 0 {
		return &Warning{
			Type:     WarningRoundNumber,
			Severity: SeverityLow,
			Message:  "amount is a round number of whole tokens",
		}
	}
	return nil
}
