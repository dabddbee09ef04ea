package security

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/idgen"
	"github.com/quacklabs/paygate/internal/wei"
)

var (
	ErrCapNotFound   = errors.New("security: spend cap not found")
	ErrEntryNotFound = errors.New("security: list entry not found")
	ErrInvalidInput  = errors.New("security: invalid input")
)

// Cap types.
const (
	CapSingle = "single"
	CapDaily  = "daily"
)

// List types.
const (
	ListAllow = "allow"
	ListDeny  = "deny"
)

// SpendCap is a per-wallet ceiling on transaction amounts.
type SpendCap struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Type      string    `json:"type"` // single or daily
	LimitWei  string    `json:"limit_wei"`
	LimitBNB  string    `json:"limit_bnb"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEntry is one address on a wallet's allow or deny list.
type ListEntry struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	List      string    `json:"list"` // allow or deny
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Verdict is the result of verifying a transaction against the settings.
// RiskScore is 100 when blocked, otherwise 20 per warning.
type Verdict struct {
	Allowed   bool     `json:"allowed"`
	Warnings  []string `json:"warnings"`
	RiskScore int      `json:"riskScore"`
}

// Settings holds per-wallet spend caps and allow/deny lists.
type Settings struct {
	clk clock.Clock

	mu      sync.RWMutex
	caps    map[string]SpendCap
	entries map[string]ListEntry
}

// NewSettings creates an empty settings store.
func NewSettings(clk clock.Clock) *Settings {
	return &Settings{
		clk:     clk,
		caps:    make(map[string]SpendCap),
		entries: make(map[string]ListEntry),
	}
}

// AddCap registers a spend cap. limitBNB is a decimal BNB string.
func (s *Settings) AddCap(wallet, capType, limitBNB string) (SpendCap, error) {
	if capType != CapSingle && capType != CapDaily {
		return SpendCap{}, ErrInvalidInput
	}
	limit, ok := wei.Parse(limitBNB)
	if !ok || limit.Sign() <= 0 {
		return SpendCap{}, ErrInvalidInput
	}

	sc := SpendCap{
		ID:        idgen.WithPrefix("cap_"),
		Wallet:    strings.ToLower(wallet),
		Type:      capType,
		LimitWei:  limit.String(),
		LimitBNB:  wei.Format(limit),
		CreatedAt: s.clk.Now(),
	}

	s.mu.Lock()
	s.caps[sc.ID] = sc
	s.mu.Unlock()
	return sc, nil
}

// Caps returns all spend caps, optionally filtered by wallet.
func (s *Settings) Caps(wallet string) []SpendCap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SpendCap, 0, len(s.caps))
	for _, c := range s.caps {
		if wallet != "" && c.Wallet != strings.ToLower(wallet) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// RemoveCap deletes a spend cap by ID.
func (s *Settings) RemoveCap(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caps[id]; !ok {
		return ErrCapNotFound
	}
	delete(s.caps, id)
	return nil
}

// AddEntry registers an allow/deny list entry.
func (s *Settings) AddEntry(wallet, list, address, label string) (ListEntry, error) {
	if list != ListAllow && list != ListDeny {
		return ListEntry{}, ErrInvalidInput
	}
	if address == "" {
		return ListEntry{}, ErrInvalidInput
	}

	entry := ListEntry{
		ID:        idgen.WithPrefix("list_"),
		Wallet:    strings.ToLower(wallet),
		List:      list,
		Address:   strings.ToLower(address),
		Label:     label,
		CreatedAt: s.clk.Now(),
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()
	return entry, nil
}

// Entries returns all list entries, optionally filtered by wallet and list.
func (s *Settings) Entries(wallet, list string) []ListEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ListEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if wallet != "" && e.Wallet != strings.ToLower(wallet) {
			continue
		}
		if list != "" && e.List != list {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RemoveEntry deletes a list entry by ID.
func (s *Settings) RemoveEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrEntryNotFound
	}
	delete(s.entries, id)
	return nil
}

// VerifyTransaction checks a candidate payment against the wallet's lists
// and caps. A deny-list hit blocks outright; everything else accumulates
// warnings.
func (s *Settings) VerifyTransaction(wallet, recipient string, amount *big.Int) Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallet = strings.ToLower(wallet)
	recipient = strings.ToLower(recipient)

	var warnings []string
	blocked := false
	allowCount := 0
	onAllow := false

	for _, e := range s.entries {
		if e.Wallet != wallet {
			continue
		}
		switch e.List {
		case ListDeny:
			if e.Address == recipient {
				blocked = true
			}
		case ListAllow:
			allowCount++
			if e.Address == recipient {
				onAllow = true
			}
		}
	}
	if allowCount > 0 && !onAllow {
		warnings = append(warnings, "recipient is not on the allow list")
	}

	if amount != nil {
		for _, c := range s.caps {
			if c.Wallet != wallet {
				continue
			}
			limit, ok := new(big.Int).SetString(c.LimitWei, 10)
			if !ok {
				continue
			}
			if amount.Cmp(limit) > 0 {
				warnings = append(warnings, "amount exceeds "+c.Type+" spend cap of "+c.LimitBNB+" BNB")
			}
		}
	}

	if blocked {
		return Verdict{Allowed: false, Warnings: append(warnings, "recipient is on the deny list"), RiskScore: 100}
	}
	return Verdict{Allowed: true, Warnings: warnings, RiskScore: 20 * len(warnings)}
}
