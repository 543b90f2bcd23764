package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arcadian-labs/agentledger/internal/health"
)

// HealthHandler exposes the passport prober's per-agent reports.
type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Register(public *gin.RouterGroup) {
	public.GET("/agents/:id/health", h.Get)
}

func (h *HealthHandler) Get(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	r := h.checker.Report(id)
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "health": r})
}
