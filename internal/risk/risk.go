// Package risk scores pending transactions with independent heuristic
// checks: gas-price drift, amount-vs-history deviation, balance sufficiency,
// frequency, address reputation, and pattern heuristics. Each check yields a
// warning or nothing; the assessment level is the maximum severity among
// triggered warnings, and only CRITICAL blocks execution.
package risk

import (
	"math/big"
)

// Severity is the ordinal classification of a warning.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// rank orders severities LOW < MEDIUM < HIGH < CRITICAL.
func rank(s Severity) int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Warning types.
const (
	WarningBadAddress          = "bad_address"
	WarningHighGasPrice        = "high_gas_price"
	WarningUnusualAmount       = "unusual_amount"
	WarningInsufficientBalance = "insufficient_balance"
	WarningHighFrequency       = "high_frequency"
	WarningRoundNumber         = "round_number"
)

// Warning is one triggered heuristic.
type Warning struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Assessment summarizes all triggered warnings.
// CanExecute is false iff RiskLevel is CRITICAL.
type Assessment struct {
	RiskLevel  Severity  `json:"risk_level"`
	Warnings   []Warning `json:"warnings"`
	CanExecute bool      `json:"can_execute"`
}

// BlockedError reports a CRITICAL assessment.
type BlockedError struct {
	Assessment *Assessment
}

func (e *BlockedError) Error() string {
	return "risk: transaction blocked at CRITICAL risk level"
}

// Transaction is the candidate under assessment.
type Transaction struct {
	UserID    string
	Sender    string
	Recipient string
	Amount    *big.Int // wei
	GasPrice  *big.Int // wei; zero/nil means "use the network price"
}
