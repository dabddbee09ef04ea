package audit

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quacklabs/paygate/internal/clock"
	"github.com/quacklabs/paygate/internal/logging"
	"github.com/quacklabs/paygate/internal/membase"
	"github.com/quacklabs/paygate/internal/metrics"
)

// Input is the caller-provided portion of an entry. ID, timestamp, and
// entity type are filled in by the service.
type Input struct {
	ActionType   string
	EntityID     string
	UserID       string
	AgentID      string
	Details      Detail
	Status       Status
	IPAddress    string
	UserAgent    string
	ErrorMessage string
}

// Service is the audit log.
type Service struct {
	mem   membase.Store
	clk   clock.Clock
	cache *entryCache
}

// New creates an audit service backed by the memory collaborator.
func New(mem membase.Store, clk clock.Clock) *Service {
	return &Service{
		mem:   mem,
		clk:   clk,
		cache: newEntryCache(CacheCapacity),
	}
}

// LogAction builds, persists, and caches one entry. A persistence failure
// propagates and the action is not considered logged.
func (s *Service) LogAction(ctx context.Context, in Input) (*Entry, error) {
	entity, err := EntityFor(in.ActionType)
	if err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = StatusSuccess
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Timestamp:    s.clk.Now().UTC(),
		ActionType:   in.ActionType,
		EntityType:   entity,
		EntityID:     in.EntityID,
		UserID:       in.UserID,
		AgentID:      in.AgentID,
		Details:      in.Details,
		Status:       in.Status,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		ErrorMessage: in.ErrorMessage,
	}

	if err := s.mem.Store(ctx, Collection, entryRecord(entry)); err != nil {
		return nil, err
	}
	s.cache.put(entry)
	metrics.AuditEntriesTotal.WithLabelValues(entry.ActionType).Inc()

	logging.L(ctx).Info("audit entry recorded",
		"audit_id", entry.ID,
		"action_type", entry.ActionType,
		"user_id", entry.UserID,
		"status", entry.Status)
	return entry, nil
}

// LogTransaction records a TRANSFER entry for a signed payment.
func (s *Service) LogTransaction(ctx context.Context, userID, entityID string, d TransactionDetail, status Status, errMsg string) (*Entry, error) {
	return s.LogAction(ctx, Input{
		ActionType:   ActionTransfer,
		EntityID:     entityID,
		UserID:       userID,
		Details:      d,
		Status:       status,
		ErrorMessage: errMsg,
	})
}

// LogPolicyChange records a POLICY_CHANGE entry.
func (s *Service) LogPolicyChange(ctx context.Context, userID string, changes map[string]any) error {
	_, err := s.LogAction(ctx, Input{
		ActionType: ActionPolicyChange,
		EntityID:   userID,
		UserID:     userID,
		Details:    PolicyChangeDetail{Changes: changes},
		Status:     StatusSuccess,
	})
	return err
}

// LogAuthEvent records an AUTH entry.
func (s *Service) LogAuthEvent(ctx context.Context, userID, event, agentAddress string, status Status) (*Entry, error) {
	return s.LogAction(ctx, Input{
		ActionType: ActionAuth,
		EntityID:   userID,
		UserID:     userID,
		Details:    AuthDetail{Event: event, AgentAddress: agentAddress},
		Status:     status,
	})
}

// LogAddressListChange records an allow/deny list mutation. actionType must
// be ADDRESS_ALLOW or ADDRESS_BLOCK.
func (s *Service) LogAddressListChange(ctx context.Context, userID, actionType, list, address string) (*Entry, error) {
	return s.LogAction(ctx, Input{
		ActionType: actionType,
		EntityID:   address,
		UserID:     userID,
		Details:    AddressListDetail{List: list, Address: address},
		Status:     StatusSuccess,
	})
}

// CachedEntry returns an entry from the bounded cache, if still resident.
func (s *Service) CachedEntry(id string) (*Entry, bool) {
	return s.cache.get(id)
}

// TrailFilter selects entries for Trail. Zero fields match everything;
// From/To bound the timestamp inclusively.
type TrailFilter struct {
	UserID     string
	ActionType string
	EntityType string
	EntityID   string
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
}

// Trail returns matching entries sorted by timestamp descending, truncated
// to the filter's limit.
func (s *Service) Trail(ctx context.Context, f TrailFilter) ([]Entry, error) {
	filters := map[string]any{}
	if f.UserID != "" {
		filters["user_id"] = f.UserID
	}
	if f.ActionType != "" {
		filters["action_type"] = f.ActionType
	}
	if f.EntityType != "" {
		filters["entity_type"] = f.EntityType
	}
	if f.EntityID != "" {
		filters["entity_id"] = f.EntityID
	}
	if f.Status != "" {
		filters["status"] = string(f.Status)
	}

	records, err := s.mem.QueryMemory(ctx, Collection, filters, 0)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		e, err := decodeEntry(r)
		if err != nil {
			logging.L(ctx).Warn("skipping undecodable audit record", "error", err)
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries, nil
}

// entryRecord flattens an entry into a membase record.
func entryRecord(e *Entry) membase.Record {
	r := membase.Record{
		"id":          e.ID,
		"timestamp":   e.Timestamp,
		"action_type": e.ActionType,
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"user_id":     e.UserID,
		"status":      string(e.Status),
	}
	if e.AgentID != "" {
		r["agent_id"] = e.AgentID
	}
	if e.Details != nil {
		r["details"] = e.Details
	}
	if e.IPAddress != "" {
		r["ip_address"] = e.IPAddress
	}
	if e.UserAgent != "" {
		r["user_agent"] = e.UserAgent
	}
	if e.ErrorMessage != "" {
		r["error_message"] = e.ErrorMessage
	}
	return r
}

// decodeEntry rebuilds an entry from a stored record. Details are decoded
// into the schema their action type dictates.
func decodeEntry(r membase.Record) (Entry, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return Entry{}, err
	}
	var raw struct {
		ID           string          `json:"id"`
		Timestamp    time.Time       `json:"timestamp"`
		ActionType   string          `json:"action_type"`
		EntityType   string          `json:"entity_type"`
		EntityID     string          `json:"entity_id"`
		UserID       string          `json:"user_id"`
		AgentID      string          `json:"agent_id"`
		Details      json.RawMessage `json:"details"`
		Status       Status          `json:"status"`
		IPAddress    string          `json:"ip_address"`
		UserAgent    string          `json:"user_agent"`
		ErrorMessage string          `json:"error_message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Entry{}, err
	}

	detail, err := decodeDetail(raw.ActionType, raw.Details)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		ID:           raw.ID,
		Timestamp:    raw.Timestamp,
		ActionType:   raw.ActionType,
		EntityType:   raw.EntityType,
		EntityID:     raw.EntityID,
		UserID:       raw.UserID,
		AgentID:      raw.AgentID,
		Details:      detail,
		Status:       raw.Status,
		IPAddress:    raw.IPAddress,
		UserAgent:    raw.UserAgent,
		ErrorMessage: raw.ErrorMessage,
	}, nil
}

// decodeDetail picks the detail schema from the action type.
func decodeDetail(actionType string, data json.RawMessage) (Detail, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	unmarshal := func(d Detail) (Detail, error) {
		return d, json.Unmarshal(data, d)
	}
	switch actionType {
	case ActionTransfer, ActionSwap:
		return unmarshal(&TransactionDetail{})
	case ActionDeploy, ActionCall:
		return unmarshal(&ContractDetail{})
	case ActionAuth:
		return unmarshal(&AuthDetail{})
	case ActionPolicyChange:
		return unmarshal(&PolicyChangeDetail{})
	case ActionAddressAllow, ActionAddressBlock:
		return unmarshal(&AddressListDetail{})
	default:
		return nil, nil
	}
}
