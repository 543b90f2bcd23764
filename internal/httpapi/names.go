package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/ledger/names"
)

// NameHandler exposes the name resolver.
type NameHandler struct {
	resolver *names.Resolver
	logger   *zap.Logger
}

// NewNameHandler creates a NameHandler.
func NewNameHandler(resolver *names.Resolver, logger *zap.Logger) *NameHandler {
	return &NameHandler{resolver: resolver, logger: logger}
}

// Register mounts the resolver routes. Names travel in request bodies and
// query parameters rather than path segments so that unusual characters do
// not collide with URL escaping.
func (h *NameHandler) Register(public, authed *gin.RouterGroup) {
	public.GET("/names/resolve", h.Resolve)
	public.GET("/names/owner", h.ResolveOwner)
	public.GET("/names/available", h.Available)
	public.GET("/agents/:id/name", h.ReverseResolve)

	authed.POST("/names", h.RegisterName)
	authed.DELETE("/names", h.ReleaseName)
}

// queryName reads the mandatory name query parameter.
func queryName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
		return "", false
	}
	return name, true
}

type nameRequest struct {
	Name    string `json:"name" binding:"required"`
	AgentID uint64 `json:"agent_id" binding:"required"`
}

// RegisterName handles POST /names.
func (h *NameHandler) RegisterName(c *gin.Context) {
	caller, _ := callerAddress(c)
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.resolver.RegisterName(c.Request.Context(), caller, req.Name, req.AgentID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "agent_id": req.AgentID})
}

// ReleaseName handles DELETE /names.
func (h *NameHandler) ReleaseName(c *gin.Context) {
	caller, _ := callerAddress(c)
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.resolver.ReleaseName(c.Request.Context(), caller, req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": req.Name, "released": true})
}

// Resolve handles GET /names/resolve?name=... and returns agent_id 0 for an
// unbound name.
func (h *NameHandler) Resolve(c *gin.Context) {
	name, ok := queryName(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "agent_id": h.resolver.Resolve(name)})
}

// ResolveOwner handles GET /names/owner?name=....
func (h *NameHandler) ResolveOwner(c *gin.Context) {
	name, ok := queryName(c)
	if !ok {
		return
	}
	owner, err := h.resolver.ResolveOwner(name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "owner": owner.Hex()})
}

// Available handles GET /names/available?name=....
func (h *NameHandler) Available(c *gin.Context) {
	name, ok := queryName(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "available": h.resolver.Available(name)})
}

// ReverseResolve handles GET /agents/:id/name.
func (h *NameHandler) ReverseResolve(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "name": h.resolver.ReverseResolve(id)})
}
