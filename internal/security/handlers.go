package security

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quacklabs/paygate/internal/audit"
	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/logging"
	"github.com/quacklabs/paygate/internal/wei"
)

// Handler provides HTTP endpoints over the security settings.
type Handler struct {
	settings *Settings
	audit    *audit.Service // nil disables audit logging
}

// NewHandler creates a new security handler.
func NewHandler(settings *Settings, auditLog *audit.Service) *Handler {
	return &Handler{settings: settings, audit: auditLog}
}

// RegisterRoutes sets up security settings routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/spend-caps", h.ListCaps)
	r.POST("/spend-caps", h.AddCap)
	r.DELETE("/spend-caps/:id", h.RemoveCap)

	r.GET("/allow-deny-lists", h.ListEntries)
	r.POST("/allow-deny-lists", h.AddEntry)
	r.DELETE("/allow-deny-lists/:id", h.RemoveEntry)

	r.POST("/verify-transaction", h.VerifyTransaction)
}

// ListCaps handles GET /api/security/spend-caps
func (h *Handler) ListCaps(c *gin.Context) {
	caps := h.settings.Caps(c.Query("wallet"))
	c.JSON(http.StatusOK, gin.H{"spend_caps": caps, "count": len(caps)})
}

// AddCap handles POST /api/security/spend-caps
func (h *Handler) AddCap(c *gin.Context) {
	var req struct {
		Wallet   string `json:"wallet" binding:"required"`
		Type     string `json:"type" binding:"required"`
		LimitBNB string `json:"limitBNB" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallet, type, limitBNB required"})
		return
	}

	sc, err := h.settings.AddCap(req.Wallet, req.Type, req.LimitBNB)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "type must be single or daily with a positive limitBNB"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "spend_cap": sc})
}

// RemoveCap handles DELETE /api/security/spend-caps/:id
func (h *Handler) RemoveCap(c *gin.Context) {
	if err := h.settings.RemoveCap(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "spend cap not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListEntries handles GET /api/security/allow-deny-lists
func (h *Handler) ListEntries(c *gin.Context) {
	entries := h.settings.Entries(c.Query("wallet"), c.Query("list"))
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// AddEntry handles POST /api/security/allow-deny-lists
func (h *Handler) AddEntry(c *gin.Context) {
	var req struct {
		Wallet  string `json:"wallet" binding:"required"`
		List    string `json:"list" binding:"required"`
		Address string `json:"address" binding:"required"`
		Label   string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallet, list, address required"})
		return
	}
	if !chain.ValidateAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "address must be a valid hex address"})
		return
	}

	entry, err := h.settings.AddEntry(req.Wallet, req.List, req.Address, req.Label)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "list must be allow or deny"})
		return
	}

	if h.audit != nil {
		action := audit.ActionAddressAllow
		if entry.List == ListDeny {
			action = audit.ActionAddressBlock
		}
		if _, err := h.audit.LogAddressListChange(c.Request.Context(), entry.Wallet, action, entry.List, entry.Address); err != nil {
			logging.L(c.Request.Context()).Error("audit write failed for list change",
				"wallet", entry.Wallet, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "audit log failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}

// RemoveEntry handles DELETE /api/security/allow-deny-lists/:id
func (h *Handler) RemoveEntry(c *gin.Context) {
	if err := h.settings.RemoveEntry(c.Param("id")); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "list entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to remove entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifyTransaction handles POST /api/security/verify-transaction
func (h *Handler) VerifyTransaction(c *gin.Context) {
	var req struct {
		Wallet    string `json:"wallet" binding:"required"`
		Recipient string `json:"recipient" binding:"required"`
		Amount    string `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallet and recipient required"})
		return
	}

	amount, ok := wei.Parse(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "amount must be a BNB amount"})
		return
	}

	verdict := h.settings.VerifyTransaction(req.Wallet, req.Recipient, amount)
	c.JSON(http.StatusOK, verdict)
}
