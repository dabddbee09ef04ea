// Package payment orchestrates the authorization pipeline: session lookup,
// policy compliance, risk assessment, payload signing, session consumption,
// and audit recording. Policy and risk gate issuance only; verification
// re-checks the signature and nonce.
package payment

import (
	"fmt"
	"math/big"

	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/risk"
	"github.com/quacklabs/paygate/internal/signature"
)

// ValidationError reports a malformed request before any gate runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payment: %s %s", e.Field, e.Message)
}

// PrepareStatus tags the outcome of a preparation attempt.
type PrepareStatus string

const (
	StatusOk             PrepareStatus = "ok"
	StatusSessionInvalid PrepareStatus = "session_invalid"
	StatusSessionExpired PrepareStatus = "session_expired"
	StatusPolicyRejected PrepareStatus = "policy_rejected"
	StatusRiskRejected   PrepareStatus = "risk_rejected"
)

// PrepareRequest is the input to Prepare. Amount is a decimal BNB string.
type PrepareRequest struct {
	SessionID string `json:"session_id"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Action    string `json:"action"`
}

// PreparedPayment is the signed, executable artifact.
type PreparedPayment struct {
	Signature   string             `json:"signature"`
	Payload     signature.Payload  `json:"payload"`
	MessageHash string             `json:"message_hash"`
	GasEstimate *chain.GasEstimate `json:"gas_estimate,omitempty"`
}

// PrepareResult is a tagged outcome: exactly the fields for its status are
// populated. Callers branch on Status instead of unwrapping errors.
type PrepareResult struct {
	Status     PrepareStatus
	Prepared   *PreparedPayment
	UserID     string
	Violations []string
	Assessment *risk.Assessment
}

// VerifyRequest carries a previously prepared payment back for verification.
// Payload must be the signed payload as returned by Prepare; amount and
// recipient, when set, are cross-checked against it.
type VerifyRequest struct {
	SessionID   string            `json:"session_id"`
	Signature   string            `json:"signature"`
	MessageHash string            `json:"message_hash"`
	Payload     signature.Payload `json:"payload"`
	Amount      string            `json:"amount"`
	Recipient   string            `json:"recipient"`
}

// CompletedPayment reports an executed payment back into tracking, history,
// and the audit trail.
type CompletedPayment struct {
	UserID    string
	Amount    *big.Int
	Recipient string
	TxHash    string
	GasPrice  *big.Int
}

// Preview is a fee estimate with no side effects.
type Preview struct {
	AmountWei string             `json:"amount_wei"`
	AmountBNB string             `json:"amount_bnb"`
	FeeWei    string             `json:"fee_wei"`
	TotalWei  string             `json:"total_wei"`
	TotalBNB  string             `json:"total_bnb"`
	Estimate  *chain.GasEstimate `json:"gas_estimate"`
}
