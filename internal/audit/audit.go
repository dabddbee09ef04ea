// Package audit maintains the append-only trail of authorization-relevant
// events. Entries are persisted through the memory collaborator and never
// mutated after creation; a bounded in-process cache accelerates point
// lookups. An action whose audit write fails is not considered logged.
package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Collection is the membase collection holding audit entries.
const Collection = "audit_logs"

// CacheCapacity bounds the recent-entry cache. Oldest entries are evicted
// first.
const CacheCapacity = 1000

var (
	ErrUnknownAction = errors.New("audit: unknown action type")
	ErrUnknownFormat = errors.New("audit: unknown export format")
)

// Status of the audited action.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Action types.
const (
	ActionTransfer     = "TRANSFER"
	ActionSwap         = "SWAP"
	ActionDeploy       = "DEPLOY"
	ActionCall         = "CALL"
	ActionAuth         = "AUTH"
	ActionPolicyChange = "POLICY_CHANGE"
	ActionAddressAllow = "ADDRESS_ALLOW"
	ActionAddressBlock = "ADDRESS_BLOCK"
)

// Entity types.
const (
	EntityTransaction = "TRANSACTION"
	EntityContract    = "CONTRACT"
	EntityUser        = "USER"
	EntityPolicy      = "POLICY"
)

// actionEntities is the fixed action-to-entity mapping. Unknown actions are
// rejected rather than guessed.
var actionEntities = map[string]string{
	ActionTransfer:     EntityTransaction,
	ActionSwap:         EntityTransaction,
	ActionDeploy:       EntityContract,
	ActionCall:         EntityContract,
	ActionAuth:         EntityUser,
	ActionPolicyChange: EntityPolicy,
	ActionAddressAllow: EntityPolicy,
	ActionAddressBlock: EntityPolicy,
}

// ActionTypes returns the known action types with their entity types.
func ActionTypes() map[string]string {
	out := make(map[string]string, len(actionEntities))
	for k, v := range actionEntities {
		out[k] = v
	}
	return out
}

// EntityFor resolves the entity type for an action type.
func EntityFor(actionType string) (string, error) {
	entity, ok := actionEntities[actionType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
	}
	return entity, nil
}

// Detail is the closed set of per-action detail schemas. Each action type
// carries exactly one detail shape.
type Detail interface {
	isDetail()
}

// TransactionDetail accompanies TRANSFER and SWAP entries.
type TransactionDetail struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	TxHash    string `json:"tx_hash,omitempty"`
}

// ContractDetail accompanies DEPLOY and CALL entries.
type ContractDetail struct {
	Contract string `json:"contract"`
	Method   string `json:"method,omitempty"`
}

// AuthDetail accompanies AUTH entries.
type AuthDetail struct {
	Event        string `json:"event"`
	AgentAddress string `json:"agent_address,omitempty"`
}

// PolicyChangeDetail accompanies POLICY_CHANGE entries.
type PolicyChangeDetail struct {
	Changes map[string]any `json:"changes"`
}

// AddressListDetail accompanies ADDRESS_ALLOW and ADDRESS_BLOCK entries.
type AddressListDetail struct {
	List    string `json:"list"`
	Address string `json:"address"`
}

func (TransactionDetail) isDetail()  {}
func (ContractDetail) isDetail()     {}
func (AuthDetail) isDetail()         {}
func (PolicyChangeDetail) isDetail() {}
func (AddressListDetail) isDetail()  {}

// Entry is one immutable audit record.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ActionType   string    `json:"action_type"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	UserID       string    `json:"user_id"`
	AgentID      string    `json:"agent_id,omitempty"`
	Details      Detail    `json:"details,omitempty"`
	Status       Status    `json:"status"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// entryCache keeps the most recent entries by ID, evicting oldest on insert.
type entryCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]*Entry
}

func newEntryCache(capacity int) *entryCache {
	return &entryCache{
		capacity: capacity,
		entries:  make(map[string]*Entry, capacity),
	}
}

func (c *entryCache) put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[e.ID]; ok {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, e.ID)
	c.entries[e.ID] = e
}

func (c *entryCache) get(id string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

func (c *entryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
