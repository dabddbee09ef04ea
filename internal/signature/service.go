package signature

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/quacklabs/paygate/internal/clock"
)

// DefaultPayloadTTL bounds how long a signed payload stays executable.
const DefaultPayloadTTL = time.Hour

// Service signs payment payloads with the agent's key and verifies
// submitted payments.
type Service struct {
	key     *ecdsa.PrivateKey
	address string
	clk     clock.Clock
	nonces  *NonceRegistry
}

// NewService creates a signature service around an injected private key
// (hex, with or without 0x prefix).
func NewService(privateKeyHex string, clk clock.Clock) (*Service, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, &Error{Reason: "invalid private key"}
	}
	return &Service{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
		clk:     clk,
		nonces:  NewNonceRegistry(),
	}, nil
}

// Address returns the signer's address (lowercase hex).
func (s *Service) Address() string {
	return s.address
}

// GeneratePaymentSignature signs a payment payload. The payload must carry
// action, amount, recipient, and nonce; an expires field is added when
// absent.
func (s *Service) GeneratePaymentSignature(payload Payload) (*SignedPayload, error) {
	for _, field := range []string{"action", "amount", "recipient", "nonce"} {
		if _, ok := payload[field]; !ok {
			return nil, &Error{Reason: "payload missing required field " + field}
		}
	}
	return s.sign(payload)
}

// CreateSingleTxSignature batches multiple sub-actions under one signature
// and one nonce. Order and count of actions are preserved in the payload.
func (s *Service) CreateSingleTxSignature(actions []Action, nonce int64) (*SignedPayload, error) {
	if len(actions) == 0 {
		return nil, &Error{Reason: "batch requires at least one action"}
	}
	payload := Payload{
		"action":  "BATCH",
		"actions": actions,
		"count":   len(actions),
		"nonce":   nonce,
	}
	return s.sign(payload)
}

// SignContractCall produces a signed payload whose method field is set for
// downstream decoding.
func (s *Service) SignContractCall(contractAddress, method string, args []any, nonce int64) (*SignedPayload, error) {
	if contractAddress == "" || method == "" {
		return nil, &Error{Reason: "contract address and method required"}
	}
	payload := Payload{
		"action":    "CONTRACT_CALL",
		"amount":    "0",
		"recipient": strings.ToLower(contractAddress),
		"method":    method,
		"args":      args,
		"nonce":     nonce,
	}
	return s.sign(payload)
}

func (s *Service) sign(payload Payload) (*SignedPayload, error) {
	if _, ok := payload["expires"]; !ok {
		payload["expires"] = s.clk.Now().Add(DefaultPayloadTTL).Unix()
	}

	hash, err := HashPayload(payload)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, &Error{Reason: "signing failed: " + err.Error()}
	}
	// Normalize recovery ID to the Ethereum convention.
	sig[64] += 27

	return &SignedPayload{
		Payload:     payload,
		MessageHash: "0x" + hex.EncodeToString(hash),
		Signature:   "0x" + hex.EncodeToString(sig),
	}, nil
}

// VerifySignature recomputes the payload hash and checks the signature
// against the claimed signer.
func (s *Service) VerifySignature(p *SignedPayload, expectedAddress string) error {
	if p == nil || p.Payload == nil {
		return &Error{Reason: "missing payload"}
	}

	hash, err := HashPayload(p.Payload)
	if err != nil {
		return err
	}
	if p.MessageHash != "" && !strings.EqualFold(p.MessageHash, "0x"+hex.EncodeToString(hash)) {
		return &Error{Reason: "message hash does not match payload"}
	}

	recovered, err := RecoverAddress(hash, p.Signature)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, expectedAddress) {
		return &Error{Reason: "signer mismatch: expected " + strings.ToLower(expectedAddress) + ", got " + recovered}
	}
	return nil
}

// VerifyExpiration reports whether the payload's expires field (epoch
// seconds) is strictly in the future.
func (s *Service) VerifyExpiration(payload Payload) bool {
	expires, ok := payloadInt64(payload, "expires")
	if !ok {
		return false
	}
	return expires > s.clk.Now().Unix()
}

// VerifyNonce rejects non-positive nonces and nonces already consumed for
// the user.
func (s *Service) VerifyNonce(userID string, nonce int64) bool {
	if nonce <= 0 {
		return false
	}
	return !s.nonces.Used(userID, nonce)
}

// ConsumeNonce records a nonce as used for replay protection. Call after a
// payment verifies successfully.
func (s *Service) ConsumeNonce(userID string, nonce int64) {
	s.nonces.MarkUsed(userID, nonce)
}

// payloadInt64 reads an integer payload field regardless of whether it came
// from Go code (int64) or a JSON round-trip (float64 / json.Number).
func payloadInt64(p Payload, field string) (int64, bool) {
	switch v := p[field].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// PayloadNonce extracts the nonce field from a payload.
func PayloadNonce(p Payload) (int64, bool) {
	return payloadInt64(p, "nonce")
}
