package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/webhooks"
)

// WebhookHandler manages event notification subscriptions. All routes
// require a session; a subscription belongs to the address that created it.
type WebhookHandler struct {
	service *webhooks.Service
	logger  *zap.Logger
}

func NewWebhookHandler(service *webhooks.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

func (h *WebhookHandler) Register(authed *gin.RouterGroup) {
	g := authed.Group("/webhooks")
	g.POST("", h.Subscribe)
	g.GET("", h.List)
	g.DELETE("/:id", h.Unsubscribe)
}

func (h *WebhookHandler) Subscribe(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	var req webhooks.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url and events are required"})
		return
	}
	sub, secret, err := h.service.Subscribe(c.Request.Context(), caller, req.URL, req.Events)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The secret appears in this response only.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
	})
}

func (h *WebhookHandler) List(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	subs, err := h.service.List(c.Request.Context(), caller)
	if err != nil {
		h.logger.Error("list webhooks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*webhooks.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *WebhookHandler) Unsubscribe(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	removed, err := h.service.Unsubscribe(c.Request.Context(), id, caller)
	if err != nil {
		h.logger.Error("unsubscribe webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove subscription"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
