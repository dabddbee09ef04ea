package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quacklabs/paygate/internal/logging"
	"github.com/quacklabs/paygate/internal/validation"
	"github.com/quacklabs/paygate/internal/wei"
)

// ChangeLogger records policy changes to the audit trail.
// Satisfied by audit.Service.
type ChangeLogger interface {
	LogPolicyChange(ctx context.Context, userID string, changes map[string]any) error
}

// Handler provides HTTP endpoints for policy configuration.
type Handler struct {
	store *Store
	audit ChangeLogger
}

// NewHandler creates a new policy handler.
func NewHandler(store *Store, audit ChangeLogger) *Handler {
	return &Handler{store: store, audit: audit}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/set-limit", h.SetLimit)
	r.GET("/:userId", h.Get)
}

// SetLimit handles POST /api/policy/set-limit
func (h *Handler) SetLimit(c *gin.Context) {
	var req struct {
		UserID   string      `json:"userId" binding:"required"`
		LimitBNB json.Number `json:"limitBNB" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "userId and limitBNB required"})
		return
	}

	userID := validation.SanitizeString(req.UserID, 200)
	p, err := h.store.SetSpendingLimit(c.Request.Context(), userID, req.LimitBNB.String())
	if err != nil {
		if errors.Is(err, ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limitBNB must be a positive BNB amount"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to update policy"})
		return
	}

	if h.audit != nil {
		if err := h.audit.LogPolicyChange(c.Request.Context(), userID, map[string]any{
			"max_daily_spend": p.MaxDailySpend,
		}); err != nil {
			// Audit write failure is fatal: the change happened but cannot
			// be proven, so report the operation as failed.
			logging.L(c.Request.Context()).Error("audit write failed for policy change",
				"user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "audit log failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"max_daily_spend_bnb": wei.Format(p.maxDailySpendWei()),
	})
}

// Get handles GET /api/policy/:userId
func (h *Handler) Get(c *gin.Context) {
	userID := c.Param("userId")
	p, err := h.store.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load policy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "policy": p})
}
