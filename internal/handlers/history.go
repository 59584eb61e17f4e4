package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/services"
	"github.com/mediaforge/studio/internal/storage"
)

// HistoryHandler serves past generations and usage statistics
type HistoryHandler struct {
	history *services.HistoryService
	usage   *services.UsageService
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(history *services.HistoryService, usage *services.UsageService) *HistoryHandler {
	return &HistoryHandler{history: history, usage: usage}
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}

// List returns history records filtered by type, model and a prompt substring
func (h *HistoryHandler) List(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	recs, err := h.history.List(c.Request.Context(), storage.HistoryFilter{
		Kind:  models.Kind(c.Query("type")),
		Model: c.Query("model"),
		Query: c.Query("q"),
		Limit: limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// Get returns one record
func (h *HistoryHandler) Get(c *gin.Context) {
	rec, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Gallery returns records whose media is stored locally
func (h *HistoryHandler) Gallery(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	recs, err := h.history.Gallery(c.Request.Context(), models.Kind(c.Query("type")), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// Migrate repairs the stored history. ?dry_run=true only reports.
func (h *HistoryHandler) Migrate(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.Query("dry_run"))
	report, err := h.history.Migrate(c.Request.Context(), dryRun)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dry_run": dryRun, "changed": report.Changed(), "report": report})
}

// Stats returns per-model usage counters and totals
func (h *HistoryHandler) Stats(c *gin.Context) {
	summary, err := h.usage.Summary(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
