package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quacklabs/paygate/internal/pagination"
	"github.com/quacklabs/paygate/internal/validation"
)

// DefaultTrailLimit is the page size for /log when none is requested.
const DefaultTrailLimit = 100

// Handler provides HTTP endpoints over the audit trail.
type Handler struct {
	svc *Service
}

// NewHandler creates a new audit handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/log", h.Log)
	r.GET("/report", h.Report)
	r.GET("/user/:id", h.UserTrail)
	r.GET("/transaction/:hash", h.TransactionTrail)
	r.GET("/statistics", h.Statistics)
	r.GET("/action-types", h.ActionTypes)
	r.GET("/user-activity", h.UserActivityReport)
	r.GET("/anomalies", h.Anomalies)
	r.GET("/export", h.Export)
	r.GET("/entry/:id", h.Entry)

	r.POST("/log-action", h.LogAction)
	r.POST("/log-transaction", h.LogTransaction)
	r.POST("/log-policy-change", h.LogPolicyChange)
	r.POST("/log-auth", h.LogAuth)
}

// filterFromQuery builds a trail filter from query parameters.
func filterFromQuery(c *gin.Context) TrailFilter {
	f := TrailFilter{
		UserID:     c.Query("user_id"),
		ActionType: c.Query("action_type"),
		EntityType: c.Query("entity_type"),
		Status:     Status(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	return f
}

// Log handles GET /api/audit/log with cursor pagination.
func (h *Handler) Log(c *gin.Context) {
	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid cursor"})
		return
	}

	f := filterFromQuery(c)
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultTrailLimit
	}
	f.Limit = 0 // page after the cursor is applied

	entries, err := h.svc.Trail(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}

	if cur != nil {
		entries = afterCursor(entries, cur)
	}
	entries, next, more := pagination.ComputePage(entries, limit, func(e Entry) (time.Time, string) {
		return e.Timestamp, e.ID
	})

	resp := gin.H{"entries": entries, "count": len(entries), "has_more": more}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// afterCursor drops everything up to and including the cursor position.
// Entries are sorted newest first, so the next page starts right after the
// cursor's entry when it is still present, or at the first strictly older
// entry otherwise.
func afterCursor(entries []Entry, cur *pagination.Cursor) []Entry {
	for i, e := range entries {
		if e.ID == cur.ID {
			return entries[i+1:]
		}
	}
	for i, e := range entries {
		if e.Timestamp.Before(cur.CreatedAt) {
			return entries[i:]
		}
	}
	return nil
}

// Report handles GET /api/audit/report
func (h *Handler) Report(c *gin.Context) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		from, _ = time.Parse(time.RFC3339, v)
	}
	if v := c.Query("to"); v != "" {
		to, _ = time.Parse(time.RFC3339, v)
	}
	report, err := h.svc.ComplianceReport(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to build report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// UserTrail handles GET /api/audit/user/:id
func (h *Handler) UserTrail(c *gin.Context) {
	f := filterFromQuery(c)
	f.UserID = c.Param("id")
	entries, err := h.svc.Trail(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": f.UserID, "entries": entries, "count": len(entries)})
}

// TransactionTrail handles GET /api/audit/transaction/:hash
func (h *Handler) TransactionTrail(c *gin.Context) {
	hash := c.Param("hash")
	entries, err := h.svc.Trail(c.Request.Context(), TrailFilter{
		EntityType: EntityTransaction,
		EntityID:   hash,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_id": hash, "entries": entries, "count": len(entries)})
}

// Statistics handles GET /api/audit/statistics
func (h *Handler) Statistics(c *gin.Context) {
	entries, err := h.svc.Trail(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}
	c.JSON(http.StatusOK, ComputeStatistics(entries))
}

// ActionTypes handles GET /api/audit/action-types
func (h *Handler) ActionTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"action_types": ActionTypes()})
}

// UserActivityReport handles GET /api/audit/user-activity
func (h *Handler) UserActivityReport(c *gin.Context) {
	entries, err := h.svc.Trail(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_activity": UserActivity(entries)})
}

// Anomalies handles GET /api/audit/anomalies
func (h *Handler) Anomalies(c *gin.Context) {
	entries, err := h.svc.Trail(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read audit trail"})
		return
	}
	anomalies := IdentifyAnomalies(entries)
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies, "count": len(anomalies)})
}

// Export handles GET /api/audit/export?format=json|csv
func (h *Handler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	data, err := h.svc.Export(c.Request.Context(), format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	switch format {
	case "csv":
		c.Header("Content-Disposition", `attachment; filename="audit_log.csv"`)
		c.Data(http.StatusOK, "text/csv", data)
	default:
		c.Data(http.StatusOK, "application/json", data)
	}
}

// Entry handles GET /api/audit/entry/:id
func (h *Handler) Entry(c *gin.Context) {
	id := c.Param("id")
	if entry, ok := h.svc.CachedEntry(id); ok {
		c.JSON(http.StatusOK, entry)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "entry not in recent cache"})
}

// LogAction handles POST /api/audit/log-action
func (h *Handler) LogAction(c *gin.Context) {
	var req struct {
		ActionType   string `json:"action_type" binding:"required"`
		EntityID     string `json:"entity_id"`
		UserID       string `json:"user_id" binding:"required"`
		AgentID      string `json:"agent_id"`
		Status       Status `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "action_type and user_id required"})
		return
	}

	entry, err := h.svc.LogAction(c.Request.Context(), Input{
		ActionType:   req.ActionType,
		EntityID:     validation.SanitizeString(req.EntityID, 200),
		UserID:       validation.SanitizeString(req.UserID, 200),
		AgentID:      validation.SanitizeString(req.AgentID, 200),
		Status:       req.Status,
		ErrorMessage: req.ErrorMessage,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownAction) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}

// LogTransaction handles POST /api/audit/log-transaction
func (h *Handler) LogTransaction(c *gin.Context) {
	var req struct {
		UserID    string `json:"user_id" binding:"required"`
		EntityID  string `json:"entity_id"`
		Amount    string `json:"amount"`
		Recipient string `json:"recipient"`
		TxHash    string `json:"tx_hash"`
		Status    Status `json:"status"`
		Error     string `json:"error_message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id required"})
		return
	}

	entry, err := h.svc.LogTransaction(c.Request.Context(), req.UserID, req.EntityID, TransactionDetail{
		Amount:    req.Amount,
		Recipient: req.Recipient,
		TxHash:    req.TxHash,
	}, req.Status, req.Error)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to record entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}

// LogPolicyChange handles POST /api/audit/log-policy-change
func (h *Handler) LogPolicyChange(c *gin.Context) {
	var req struct {
		UserID  string         `json:"user_id" binding:"required"`
		Changes map[string]any `json:"changes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id and changes required"})
		return
	}

	if err := h.svc.LogPolicyChange(c.Request.Context(), req.UserID, req.Changes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to record entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LogAuth handles POST /api/audit/log-auth
func (h *Handler) LogAuth(c *gin.Context) {
	var req struct {
		UserID       string `json:"user_id" binding:"required"`
		Event        string `json:"event" binding:"required"`
		AgentAddress string `json:"agent_address"`
		Status       Status `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "user_id and event required"})
		return
	}

	entry, err := h.svc.LogAuthEvent(c.Request.Context(), req.UserID, req.Event, req.AgentAddress, req.Status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to record entry"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entry": entry})
}
