package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quacklabs/paygate/internal/risk"
	"github.com/quacklabs/paygate/internal/validation"
	"github.com/quacklabs/paygate/internal/wei"
)

// Handler provides the payment HTTP surface.
type Handler struct {
	orch *Orchestrator
}

// NewHandler creates a new payment handler.
func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/session/init", h.InitSession)
	r.POST("/prepare", h.Prepare)
	r.POST("/verify", h.Verify)
	r.GET("/history/:userId", h.History)
	r.POST("/preview", h.Preview)
	r.POST("/assess-risk", h.AssessRisk)
}

// InitSession handles POST /api/payment/session/init
func (h *Handler) InitSession(c *gin.Context) {
	var req struct {
		UserID       string `json:"user_id" binding:"required"`
		AgentAddress string `json:"agent_address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id required"})
		return
	}

	userID := validation.SanitizeString(req.UserID, 200)
	s, err := h.orch.Sessions().Initialize(userID, validation.SanitizeAddress(req.AgentAddress))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"session_id":    s.ID,
		"user_id":       s.UserID,
		"agent_address": s.AgentAddress,
		"nonce":         s.Nonce,
		"expires_at":    s.ExpiresAt,
	})
}

// Prepare handles POST /api/payment/prepare
func (h *Handler) Prepare(c *gin.Context) {
	var req PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_id, amount, recipient required"})
		return
	}

	result, err := h.orch.Prepare(c.Request.Context(), &req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "payment preparation failed"})
		return
	}

	switch result.Status {
	case StatusOk:
		c.JSON(http.StatusOK, gin.H{
			"prepared":     true,
			"signature":    result.Prepared.Signature,
			"payload":      result.Prepared.Payload,
			"message_hash": result.Prepared.MessageHash,
			"gas_estimate": result.Prepared.GasEstimate,
		})
	case StatusSessionInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid session"})
	case StatusSessionExpired:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session expired"})
	case StatusPolicyRejected:
		c.JSON(http.StatusForbidden, gin.H{
			"success":    false,
			"error":      "Policy violation",
			"violations": result.Violations,
		})
	case StatusRiskRejected:
		c.JSON(http.StatusForbidden, gin.H{
			"success":    false,
			"error":      "transaction blocked at CRITICAL risk level",
			"assessment": result.Assessment,
		})
	}
}

// Verify handles POST /api/payment/verify
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_id, signature, payload required"})
		return
	}

	valid, err := h.orch.Verify(c.Request.Context(), &req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": vErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "verification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// History handles GET /api/payment/history/:userId
func (h *Handler) History(c *gin.Context) {
	userID := c.Param("userId")
	limit := DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	payments, err := h.orch.History(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read payment history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "limit": limit})
}

// Preview handles POST /api/payment/preview
func (h *Handler) Preview(c *gin.Context) {
	var req struct {
		Amount    string `json:"amount" binding:"required"`
		Recipient string `json:"recipient" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "amount and recipient required"})
		return
	}

	preview, err := h.orch.GeneratePreview(c.Request.Context(), req.Amount, req.Recipient)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": vErr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "fee estimation failed"})
		return
	}
	c.JSON(http.StatusOK, preview)
}

// AssessRisk handles POST /api/payment/assess-risk
func (h *Handler) AssessRisk(c *gin.Context) {
	var req struct {
		UserID    string `json:"user_id" binding:"required"`
		Sender    string `json:"sender"`
		Recipient string `json:"recipient" binding:"required"`
		Amount    string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id, recipient, amount required"})
		return
	}

	amount, ok := wei.Parse(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "amount must be a BNB amount"})
		return
	}

	assessment, err := h.orch.AssessRisk(c.Request.Context(), &risk.Transaction{
		UserID:    req.UserID,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Amount:    amount,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "risk assessment failed"})
		return
	}
	c.JSON(http.StatusOK, assessment)
}
