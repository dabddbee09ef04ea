package payment

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/quacklabs/paygate/internal/audit"
	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/logging"
	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/metrics"
	"github.com/quacklabs/paygate/internal/policy"
	"github.com/quacklabs/paygate/internal/risk"
	"github.com/quacklabs/paygate/internal/session"
	"github.com/quacklabs/paygate/internal/signature"
	"github.com/quacklabs/paygate/internal/traces"
	"github.com/quacklabs/paygate/internal/wei"
)

// PaymentsCollection is the membase collection holding completed payments.
const PaymentsCollection = "payments"

// DefaultHistoryLimit bounds history reads when no limit is given.
const DefaultHistoryLimit = 50

// ChainReader is the blockchain collaborator surface the orchestrator uses.
// *chain.Client satisfies it.
type ChainReader interface {
	GetGasPrice(ctx context.Context) (*chain.GasPrice, error)
	EstimateGas(ctx context.Context, from, to string, amount *big.Int) (*chain.GasEstimate, error)
}

// Broadcaster pushes events to live subscribers. Satisfied by
// *realtime.Hub; nil disables broadcasting.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Orchestrator runs the authorization pipeline.
type Orchestrator struct {
	sessions *session.Manager
	policies *policy.Engine
	risks    *risk.Assessor
	signer   *signature.Service
	chain    ChainReader
	mem      membase.Store
	audit    *audit.Service
	feed     Broadcaster
}

// NewOrchestrator wires the pipeline. chainReader and feed may be nil; gas
// estimates and broadcasts are then skipped.
func NewOrchestrator(
	sessions *session.Manager,
	policies *policy.Engine,
	risks *risk.Assessor,
	signer *signature.Service,
	chainReader ChainReader,
	mem membase.Store,
	auditLog *audit.Service,
	feed Broadcaster,
) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		policies: policies,
		risks:    risks,
		signer:   signer,
		chain:    chainReader,
		mem:      mem,
		audit:    auditLog,
		feed:     feed,
	}
}

// Sessions exposes the session manager for the HTTP layer.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// parseRequest validates and normalizes a prepare request.
func parseRequest(req *PrepareRequest) (amount *big.Int, action string, err error) {
	if req.SessionID == "" {
		return nil, "", &ValidationError{Field: "session_id", Message: "is required"}
	}
	amount, ok := wei.Parse(req.Amount)
	if !ok || amount.Sign() <= 0 {
		return nil, "", &ValidationError{Field: "amount", Message: "must be a positive BNB amount"}
	}
	if !chain.ValidateAddress(req.Recipient) {
		return nil, "", &ValidationError{Field: "recipient", Message: "must be a valid address"}
	}
	action = strings.ToUpper(req.Action)
	if action == "" {
		action = audit.ActionTransfer
	}
	return amount, action, nil
}

// Prepare runs the full pipeline. Gate rejections come back as tagged
// results; only infrastructure failures (storage, signing, audit) are
// errors.
func (o *Orchestrator) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Prepare",
		traces.SessionID(req.SessionID), traces.Amount(req.Amount), traces.Recipient(req.Recipient))
	defer span.End()

	res, err := o.prepare(ctx, req)
	if res != nil {
		span.SetAttributes(traces.UserID(res.UserID))
		metrics.PaymentsPreparedTotal.WithLabelValues(string(res.Status)).Inc()
	}
	return res, err
}

func (o *Orchestrator) prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error) {
	amount, action, err := parseRequest(req)
	if err != nil {
		return nil, err
	}

	s, err := o.sessions.Get(req.SessionID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return &PrepareResult{Status: StatusSessionInvalid}, nil
	case errors.Is(err, session.ErrExpired):
		return &PrepareResult{Status: StatusSessionExpired, UserID: s.UserID}, nil
	case err != nil:
		return nil, err
	}

	compliance, err := o.policies.CheckCompliance(ctx, policy.Transaction{
		Amount:    amount,
		Recipient: req.Recipient,
	}, s.UserID)
	if err != nil {
		return nil, err
	}
	if !compliance.Compliant {
		o.logFailedTransfer(ctx, s.UserID, req, (&policy.ViolationError{
			UserID:     s.UserID,
			Violations: compliance.Violations,
		}).Error())
		return &PrepareResult{
			Status:     StatusPolicyRejected,
			UserID:     s.UserID,
			Violations: compliance.Violations,
		}, nil
	}

	assessment, err := o.risks.AssessTransaction(ctx, &risk.Transaction{
		UserID:    s.UserID,
		Sender:    s.AgentAddress,
		Recipient: req.Recipient,
		Amount:    amount,
	})
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(traces.RiskLevel(string(assessment.RiskLevel)))
	if !assessment.CanExecute {
		o.logFailedTransfer(ctx, s.UserID, req, (&risk.BlockedError{Assessment: assessment}).Error())
		return &PrepareResult{
			Status:     StatusRiskRejected,
			UserID:     s.UserID,
			Assessment: assessment,
		}, nil
	}

	signed, err := o.signer.GeneratePaymentSignature(signature.Payload{
		"action":    action,
		"amount":    amount.String(),
		"recipient": strings.ToLower(req.Recipient),
		"nonce":     s.Nonce,
	})
	if err != nil {
		return nil, err
	}

	// Consume after signing; a concurrent preparation losing this race gets
	// a session rejection rather than a duplicate signature.
	if _, err := o.sessions.Consume(req.SessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrExpired):
			return &PrepareResult{Status: StatusSessionExpired, UserID: s.UserID}, nil
		default:
			return &PrepareResult{Status: StatusSessionInvalid, UserID: s.UserID}, nil
		}
	}

	prepared := &PreparedPayment{
		Signature:   signed.Signature,
		Payload:     signed.Payload,
		MessageHash: signed.MessageHash,
	}
	if o.chain != nil {
		if est, err := o.chain.EstimateGas(ctx, s.AgentAddress, req.Recipient, amount); err == nil {
			prepared.GasEstimate = est
			o.risks.RecordGasPrice(weiFromGwei(est.GasPriceGwei))
		}
	}

	if _, err := o.audit.LogTransaction(ctx, s.UserID, s.ID, audit.TransactionDetail{
		Amount:    amount.String(),
		Recipient: strings.ToLower(req.Recipient),
	}, audit.StatusSuccess, ""); err != nil {
		// The signed payload exists but the action cannot be proven; the
		// preparation is reported failed.
		return nil, err
	}

	logging.L(ctx).Info("payment prepared",
		"session_id", s.ID,
		"user_id", s.UserID,
		"amount_bnb", wei.Format(amount),
		"recipient", strings.ToLower(req.Recipient))

	return &PrepareResult{Status: StatusOk, UserID: s.UserID, Prepared: prepared}, nil
}

// logFailedTransfer records a gate rejection; an audit failure here is
// logged but does not mask the rejection.
func (o *Orchestrator) logFailedTransfer(ctx context.Context, userID string, req *PrepareRequest, reason string) {
	if _, err := o.audit.LogTransaction(ctx, userID, req.SessionID, audit.TransactionDetail{
		Amount:    req.Amount,
		Recipient: strings.ToLower(req.Recipient),
	}, audit.StatusFailed, reason); err != nil {
		logging.L(ctx).Error("audit write failed for rejected payment",
			"user_id", userID, "error", err)
	}
}

// Verify re-resolves the session and re-verifies the signature, expiry, and
// nonce of a prepared payment. Policy and risk are not re-run. A valid
// verification consumes the nonce so the payload cannot verify twice.
func (o *Orchestrator) Verify(ctx context.Context, req *VerifyRequest) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Verify", traces.SessionID(req.SessionID))
	defer span.End()

	valid, err := o.verify(ctx, req)
	if err == nil {
		result := "invalid"
		if valid {
			result = "valid"
		}
		metrics.PaymentVerificationsTotal.WithLabelValues(result).Inc()
	}
	return valid, err
}

func (o *Orchestrator) verify(ctx context.Context, req *VerifyRequest) (bool, error) {
	if req.SessionID == "" || req.Signature == "" || req.Payload == nil {
		return false, &ValidationError{Field: "session_id, signature, payload", Message: "are required"}
	}

	// A consumed session is the normal state here; a missing or expired one
	// fails verification outright.
	s, err := o.sessions.Get(req.SessionID)
	if err != nil {
		return false, nil
	}

	if req.Amount != "" {
		amount, ok := wei.Parse(req.Amount)
		if !ok || req.Payload["amount"] != amount.String() {
			return false, nil
		}
	}
	if req.Recipient != "" {
		got, _ := req.Payload["recipient"].(string)
		if !strings.EqualFold(got, req.Recipient) {
			return false, nil
		}
	}

	signed := &signature.SignedPayload{
		Payload:     req.Payload,
		MessageHash: req.MessageHash,
		Signature:   req.Signature,
	}
	if err := o.signer.VerifySignature(signed, o.signer.Address()); err != nil {
		o.logSecurityEvent(ctx, s, "signature_mismatch")
		return false, nil
	}
	if !o.signer.VerifyExpiration(req.Payload) {
		return false, nil
	}

	nonce, ok := signature.PayloadNonce(req.Payload)
	if !ok || nonce != s.Nonce {
		o.logSecurityEvent(ctx, s, "nonce_mismatch")
		return false, nil
	}
	if !o.signer.VerifyNonce(s.UserID, nonce) {
		o.logSecurityEvent(ctx, s, "nonce_replay")
		return false, nil
	}
	o.signer.ConsumeNonce(s.UserID, nonce)

	return true, nil
}

// logSecurityEvent records a failed verification as an AUTH audit entry.
func (o *Orchestrator) logSecurityEvent(ctx context.Context, s *session.Session, event string) {
	if s == nil {
		return
	}
	if _, err := o.audit.LogAuthEvent(ctx, s.UserID, event, s.AgentAddress, audit.StatusFailed); err != nil {
		logging.L(ctx).Error("audit write failed for security event",
			"event", event, "user_id", s.UserID, "error", err)
	}
}

// History returns the most recent completed payments for a user.
func (o *Orchestrator) History(ctx context.Context, userID string, limit int) ([]membase.Record, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return o.mem.QueryMemory(ctx, PaymentsCollection, map[string]any{"user_id": userID}, limit)
}

// GeneratePreview estimates fees for a candidate payment without touching
// any state.
func (o *Orchestrator) GeneratePreview(ctx context.Context, amountBNB, recipient string) (*Preview, error) {
	amount, ok := wei.Parse(amountBNB)
	if !ok || amount.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Message: "must be a positive BNB amount"}
	}
	if !chain.ValidateAddress(recipient) {
		return nil, &ValidationError{Field: "recipient", Message: "must be a valid address"}
	}
	if o.chain == nil {
		return nil, errors.New("payment: no chain collaborator configured")
	}

	est, err := o.chain.EstimateGas(ctx, "", recipient, amount)
	if err != nil {
		return nil, err
	}

	total := new(big.Int).Add(amount, est.FeeWei)
	return &Preview{
		AmountWei: amount.String(),
		AmountBNB: wei.Format(amount),
		FeeWei:    est.FeeWei.String(),
		TotalWei:  total.String(),
		TotalBNB:  wei.Format(total),
		Estimate:  est,
	}, nil
}

// AssessRisk is a pass-through for pre-flight checks from the UI.
func (o *Orchestrator) AssessRisk(ctx context.Context, tx *risk.Transaction) (*risk.Assessment, error) {
	return o.risks.AssessTransaction(ctx, tx)
}

// RecordCompleted feeds an executed payment into daily tracking, history,
// the audit trail, and the live feed. Called only after on-chain success.
func (o *Orchestrator) RecordCompleted(ctx context.Context, p *CompletedPayment) error {
	if p.UserID == "" || p.Amount == nil || p.Amount.Sign() <= 0 {
		return &ValidationError{Field: "user_id, amount", Message: "are required"}
	}
	recipient := strings.ToLower(p.Recipient)

	o.policies.Tracker().RecordPayment(p.UserID, p.Amount, recipient)

	if err := o.mem.Store(ctx, PaymentsCollection, membase.Record{
		"user_id":   p.UserID,
		"amount":    p.Amount.String(),
		"recipient": recipient,
		"tx_hash":   p.TxHash,
	}); err != nil {
		return err
	}

	if _, err := o.audit.LogTransaction(ctx, p.UserID, p.TxHash, audit.TransactionDetail{
		Amount:    p.Amount.String(),
		Recipient: recipient,
		TxHash:    p.TxHash,
	}, audit.StatusSuccess, ""); err != nil {
		return err
	}

	if p.GasPrice != nil {
		o.risks.RecordGasPrice(p.GasPrice)
	}
	if o.feed != nil {
		o.feed.Broadcast("payment_completed", map[string]any{
			"user_id":    p.UserID,
			"amount_bnb": wei.Format(p.Amount),
			"recipient":  recipient,
			"tx_hash":    p.TxHash,
		})
	}

	// Opportunistic purge keeps tracking memory bounded.
	o.policies.Tracker().ClearOldTracking()
	return nil
}

// weiFromGwei converts a gwei float back to wei for the gas window.
func weiFromGwei(gwei float64) *big.Int {
	if gwei <= 0 {
		return big.NewInt(0)
	}
	return big.NewInt(int64(gwei * 1e9))
}
