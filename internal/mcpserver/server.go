package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all PayGate tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("paygate", "1.0.0")
	client := NewPayGateClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolInitSession, h.HandleInitSession)
	s.AddTool(ToolPreparePayment, h.HandlePreparePayment)
	s.AddTool(ToolCheckPolicy, h.HandleCheckPolicy)
	s.AddTool(ToolSetPolicyLimit, h.HandleSetPolicyLimit)
	s.AddTool(ToolAssessRisk, h.HandleAssessRisk)
	s.AddTool(ToolAuditTrail, h.HandleAuditTrail)
	s.AddTool(ToolPaymentHistory, h.HandlePaymentHistory)
	s.AddTool(ToolComplianceReport, h.HandleComplianceReport)

	return s
}
