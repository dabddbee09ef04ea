// Package session manages short-lived payment sessions and per-user nonces.
//
// A session binds a user, an agent identity, and a strictly increasing nonce
// under a fixed TTL. Expiration is evaluated lazily at use, never by a
// background sweep, and a session is consumed at most once by a successful
// payment preparation.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Status of a payment session.
type Status string

const (
	StatusActive   Status = "active"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

var (
	ErrNotFound = errors.New("session: invalid session")
	ErrExpired  = errors.New("session: session expired")
	ErrConsumed = errors.New("session: session already consumed")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: %s %s", e.Field, e.Message)
}

// Session is one payment authorization context.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	AgentAddress string    `json:"agent_address"`
	Nonce        int64     `json:"nonce"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       Status    `json:"status"`
}
