// Package policy provides per-user spending policies for agent payments.
//
// A policy caps what an agent may move on a user's behalf: a single
// transaction ceiling, a daily aggregate ceiling, a daily transaction count,
// and optional recipient allow/deny lists. Policies are persisted through the
// membase collaborator and cached locally; the engine evaluates a candidate
// transaction against the policy plus today's tracked usage.
package policy

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/quacklabs/paygate/internal/wei"
)

// PreferenceKey is the membase user-preference key holding a user's policy.
const PreferenceKey = "payment_policy"

// Policy is one user's spending policy. Amounts are wei integer strings.
type Policy struct {
	MaxSingleTx      string   `json:"max_single_tx"`
	MaxDailySpend    string   `json:"max_daily_spend"`
	DailyTxLimit     int      `json:"daily_tx_limit"`
	AllowedAddresses []string `json:"allowed_addresses,omitempty"`
	DeniedAddresses  []string `json:"denied_addresses,omitempty"`
}

// Default returns the policy applied when a user has none stored:
// 1 BNB per transaction, 10 BNB per day, 100 transactions per day, no lists.
func Default() Policy {
	return Policy{
		MaxSingleTx:   wei.BNB(1).String(),
		MaxDailySpend: wei.BNB(10).String(),
		DailyTxLimit:  100,
	}
}

// clone deep-copies a policy so cached values never alias caller slices.
func (p Policy) clone() Policy {
	cp := p
	if p.AllowedAddresses != nil {
		cp.AllowedAddresses = append([]string(nil), p.AllowedAddresses...)
	}
	if p.DeniedAddresses != nil {
		cp.DeniedAddresses = append([]string(nil), p.DeniedAddresses...)
	}
	return cp
}

// maxSingleTxWei parses the single-transaction cap, falling back to the
// default when the stored value is malformed.
func (p Policy) maxSingleTxWei() *big.Int {
	if v, ok := new(big.Int).SetString(p.MaxSingleTx, 10); ok {
		return v
	}
	return wei.BNB(1)
}

func (p Policy) maxDailySpendWei() *big.Int {
	if v, ok := new(big.Int).SetString(p.MaxDailySpend, 10); ok {
		return v
	}
	return wei.BNB(10)
}

// ViolationError is the business outcome of a failed compliance check.
// Its message always contains "Policy violation".
type ViolationError struct {
	UserID     string
	Violations []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy: Policy violation for user %s: %s",
		e.UserID, strings.Join(e.Violations, "; "))
}

func containsAddress(list []string, addr string) bool {
	for _, a := range list {
		if strings.EqualFold(a, addr) {
			return true
		}
	}
	return false
}
