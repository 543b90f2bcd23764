package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
)

// EventHandler exposes read-only endpoints for the hash-chained event log.
type EventHandler struct {
	events eventlog.Log
	logger *zap.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events eventlog.Log, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// Register mounts the event-log routes on the given router group.
func (h *EventHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/events")
	{
		e.GET("", h.List)
		e.GET("/verify", h.Verify)
		e.GET("/entries/:idx", h.Get)
	}
}

// List handles GET /events — returns a page of events plus the chain length
// and current root hash.
func (h *EventHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	from, _ := strconv.Atoi(c.DefaultQuery("from", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if from < 0 || limit < 1 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be >= 0 and limit in [1,1000]"})
		return
	}

	count, err := h.events.Len(ctx)
	if err != nil {
		h.logger.Error("event log Len", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query event log"})
		return
	}
	root, err := h.events.Root(ctx)
	if err != nil {
		h.logger.Error("event log Root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query event log root"})
		return
	}
	events, err := h.events.List(ctx, from, limit)
	if err != nil {
		h.logger.Error("event log List", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query event log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  count,
		"root":   root,
		"events": events,
	})
}

// Verify handles GET /events/verify — walks the full chain and reports
// integrity.
func (h *EventHandler) Verify(c *gin.Context) {
	if err := h.events.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("event chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Get handles GET /events/entries/:idx.
func (h *EventHandler) Get(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	event, err := h.events.Get(c.Request.Context(), idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, event)
}
