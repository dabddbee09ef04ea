package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the PayGate MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolInitSession = mcp.NewTool("init_session",
	mcp.WithDescription(
		"Start a payment session for a user. "+
			"Returns a session ID and a one-time nonce that a subsequent prepare_payment call consumes. "+
			"Sessions expire after one hour."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user the session belongs to")),
)

var ToolPreparePayment = mcp.NewTool("prepare_payment",
	mcp.WithDescription(
		"Authorize and sign a payment through the full PayGate pipeline: "+
			"session validation, policy compliance, risk assessment, and EIP-191 signing. "+
			"Requires an active session from init_session. "+
			"Returns the signed payload on success, or the policy violations / risk warnings that blocked it."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Active session ID from init_session")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in BNB (e.g. '0.05')")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address (e.g. '0x1234...')")),
	mcp.WithString("action",
		mcp.Description("Payment action type: TRANSFER (default), SWAP, DEPLOY, or CALL"),
		mcp.Enum("TRANSFER", "SWAP", "DEPLOY", "CALL")),
)

var ToolCheckPolicy = mcp.NewTool("check_policy",
	mcp.WithDescription(
		"Look up a user's spending policy: per-transaction limit, daily limit, "+
			"daily transaction cap, and current daily usage. "+
			"Use this before prepare_payment to see how much headroom remains."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose policy to fetch")),
)

var ToolSetPolicyLimit = mcp.NewTool("set_policy_limit",
	mcp.WithDescription(
		"Update a user's daily spending limit. "+
			"Other policy fields keep their current values. Changes are audit-logged."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose policy to update")),
	mcp.WithString("limit_bnb",
		mcp.Required(),
		mcp.Description("New daily spending limit in BNB (e.g. '20.0')")),
)

var ToolAssessRisk = mcp.NewTool("assess_risk",
	mcp.WithDescription(
		"Run a risk assessment on a hypothetical transaction without signing anything. "+
			"Returns the risk level (LOW/MEDIUM/HIGH/CRITICAL), warnings, and whether "+
			"the transaction would be allowed to execute."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user who would send the transaction")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in BNB (e.g. '0.05')")),
	mcp.WithString("recipient",
		mcp.Required(),
		mcp.Description("Recipient address (e.g. '0x1234...')")),
)

var ToolAuditTrail = mcp.NewTool("audit_trail",
	mcp.WithDescription(
		"Fetch recent audit log entries, optionally filtered by user, action type, or status. "+
			"Entries are returned newest first."),
	mcp.WithString("user_id",
		mcp.Description("Filter by user")),
	mcp.WithString("action_type",
		mcp.Description("Filter by action type (TRANSFER, SWAP, DEPLOY, CALL, AUTH, POLICY_CHANGE, ADDRESS_ALLOW, ADDRESS_BLOCK)")),
	mcp.WithString("status",
		mcp.Description("Filter by status: SUCCESS or FAILED"),
		mcp.Enum("SUCCESS", "FAILED")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 20)")),
)

var ToolPaymentHistory = mcp.NewTool("payment_history",
	mcp.WithDescription(
		"List a user's completed payments, newest first."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user whose payment history to fetch")),
)

var ToolComplianceReport = mcp.NewTool("compliance_report",
	mcp.WithDescription(
		"Generate a compliance report over the audit trail: totals, per-action and "+
			"per-day breakdowns, per-user activity, and detected anomalies such as "+
			"high failure rates. Defaults to the last 30 days."),
	mcp.WithString("from",
		mcp.Description("Report window start, RFC 3339 (e.g. '2026-02-01T00:00:00Z')")),
	mcp.WithString("to",
		mcp.Description("Report window end, RFC 3339")),
)
