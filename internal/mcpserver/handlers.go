package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PayGateClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PayGateClient) *Handlers {
	return &Handlers{client: client}
}

// HandleInitSession starts a payment session.
func (h *Handlers) HandleInitSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.InitSession(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to init session: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Session created:\n")
	fmt.Fprintf(&sb, "  Session ID: %s\n", getString(resp, "session_id"))
	fmt.Fprintf(&sb, "  User: %s\n", getString(resp, "user_id"))
	fmt.Fprintf(&sb, "  Expires: %s\n", getString(resp, "expires_at"))
	sb.WriteString("\nUse the session ID with prepare_payment. Each session signs one payment.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandlePreparePayment runs the full authorization pipeline.
func (h *Handlers) HandlePreparePayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}
	action := req.GetString("action", "")

	raw, err := h.client.PreparePayment(ctx, sessionID, amount, recipient, action)
	if err != nil {
		// Rejections come back as HTTP errors; surface them as text so the
		// LLM can explain why the payment was blocked.
		return mcp.NewToolResultText(fmt.Sprintf(
			"Payment was not authorized.\n\n%v\n\n"+
				"Check the user's policy with check_policy, or run assess_risk to see "+
				"which risk warnings fired.", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse result: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Payment authorized and signed:\n")
	fmt.Fprintf(&sb, "  Amount: %s BNB to %s\n", amount, recipient)
	fmt.Fprintf(&sb, "  Signature: %s\n", getString(resp, "signature"))
	fmt.Fprintf(&sb, "  Message hash: %s\n", getString(resp, "message_hash"))
	if v := getString(resp, "gas_estimate"); v != "" {
		fmt.Fprintf(&sb, "  Gas estimate: %s\n", v)
	}
	sb.WriteString("\nThe session is now consumed. Start a new one for the next payment.")

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCheckPolicy fetches a user's spending policy.
func (h *Handlers) HandleCheckPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetPolicy(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch policy: %v", err)), nil
	}

	text, err := formatPolicy(userID, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policy: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSetPolicyLimit updates a user's daily spending limit.
func (h *Handlers) HandleSetPolicyLimit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetString("limit_bnb", "")
	if limit == "" {
		return mcp.NewToolResultError("limit_bnb is required"), nil
	}

	raw, err := h.client.SetPolicyLimit(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update policy: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Daily spending limit for %s updated to %s BNB. The change was audit-logged.",
		userID, getString(resp, "max_daily_spend_bnb"))), nil
}

// HandleAssessRisk runs a standalone risk assessment.
func (h *Handlers) HandleAssessRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	recipient := req.GetString("recipient", "")
	if recipient == "" {
		return mcp.NewToolResultError("recipient is required"), nil
	}

	raw, err := h.client.AssessRisk(ctx, userID, amount, recipient)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Risk assessment failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAuditTrail fetches filtered audit log entries.
func (h *Handlers) HandleAuditTrail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	actionType := req.GetString("action_type", "")
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.AuditTrail(ctx, userID, actionType, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch audit trail: %v", err)), nil
	}

	text, err := formatTrail(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse audit trail: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePaymentHistory lists a user's completed payments.
func (h *Handlers) HandlePaymentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.PaymentHistory(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch history: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleComplianceReport generates an audit compliance report.
func (h *Handlers) HandleComplianceReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	to := req.GetString("to", "")

	raw, err := h.client.ComplianceReport(ctx, from, to)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to build report: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func formatPolicy(userID string, raw json.RawMessage) (string, error) {
	var resp struct {
		Policy map[string]any `json:"policy"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Policy == nil {
		return "", fmt.Errorf("unexpected policy response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Spending policy for %s:\n", userID)
	fmt.Fprintf(&sb, "  Per-transaction limit: %s wei\n", getString(resp.Policy, "max_single_tx"))
	fmt.Fprintf(&sb, "  Daily spending limit:  %s wei\n", getString(resp.Policy, "max_daily_spend"))
	if v, ok := getFloat(resp.Policy, "daily_tx_limit"); ok {
		fmt.Fprintf(&sb, "  Daily transaction cap: %.0f\n", v)
	}
	if allowed, ok := resp.Policy["allowed_addresses"].([]any); ok && len(allowed) > 0 {
		fmt.Fprintf(&sb, "  Allow list: %d address(es)\n", len(allowed))
	}
	if denied, ok := resp.Policy["denied_addresses"].([]any); ok && len(denied) > 0 {
		fmt.Fprintf(&sb, "  Deny list: %d address(es)\n", len(denied))
	}
	return sb.String(), nil
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessment map[string]any `json:"assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	m := resp.Assessment
	if m == nil {
		// Assessment might be at the top level
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	sb.WriteString("Risk assessment:\n")
	fmt.Fprintf(&sb, "  Level: %s\n", getString(m, "risk_level"))
	if v, ok := m["can_execute"].(bool); ok {
		fmt.Fprintf(&sb, "  Can execute: %t\n", v)
	}

	warnings, _ := m["warnings"].([]any)
	if len(warnings) == 0 {
		sb.WriteString("  Warnings: none\n")
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "  Warnings (%d):\n", len(warnings))
	for _, w := range warnings {
		wm, ok := w.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "    [%s] %s: %s\n",
			getString(wm, "severity"), getString(wm, "type"), getString(wm, "message"))
	}
	return sb.String(), nil
}

func formatTrail(raw json.RawMessage) (string, error) {
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Entries) == 0 {
		return "No audit entries matched.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d audit entr%s:\n\n", len(resp.Entries), plural(len(resp.Entries)))
	for i, e := range resp.Entries {
		fmt.Fprintf(&sb, "%d. [%s] %s %s\n", i+1,
			getString(e, "status"), getString(e, "action_type"), getString(e, "timestamp"))
		fmt.Fprintf(&sb, "   User: %s | Entity: %s/%s\n",
			getString(e, "user_id"), getString(e, "entity_type"), getString(e, "entity_id"))
		if msg := getString(e, "error_message"); msg != "" {
			fmt.Fprintf(&sb, "   Error: %s\n", msg)
		}
	}
	return sb.String(), nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
