// Package signature builds, signs, and verifies canonical payment payloads.
//
// Payloads are hashed as EIP-191 prefixed keccak256 digests of their
// canonical JSON and signed with the agent's injected ECDSA key; this
// package never generates keys. Nonce and expiry rules guard against replay.
package signature

import (
	"fmt"
	"sync"
)

// Error marks a signature-layer failure. Callers treat these as security
// events: reported 4xx and additionally audit-logged.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("signature: %s", e.Reason)
}

// Payload is the free set of signed fields. Payment payloads always carry
// action, amount, recipient, and nonce; batch and contract-call payloads add
// actions / method fields.
type Payload map[string]any

// SignedPayload is immutable once produced.
type SignedPayload struct {
	Payload     Payload `json:"payload"`
	MessageHash string  `json:"message_hash"`
	Signature   string  `json:"signature"`
}

// Action is one sub-action inside a batched signature.
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Data   string `json:"data,omitempty"`
}

// NonceRegistry tracks nonces already consumed per user so a signed payload
// cannot be replayed through verification twice.
type NonceRegistry struct {
	mu   sync.Mutex
	used map[string]map[int64]struct{}
}

// NewNonceRegistry creates an empty registry.
func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{used: make(map[string]map[int64]struct{})}
}

// MarkUsed records a nonce as consumed for a user.
func (r *NonceRegistry) MarkUsed(userID string, nonce int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used[userID] == nil {
		r.used[userID] = make(map[int64]struct{})
	}
	r.used[userID][nonce] = struct{}{}
}

// Used reports whether a nonce was already consumed for a user.
func (r *NonceRegistry) Used(userID string, nonce int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[userID][nonce]
	return ok
}
