package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/ledger/reputation"
)

// FeedbackHandler exposes the reputation ledger.
type FeedbackHandler struct {
	ledger *reputation.Ledger
	logger *zap.Logger
}

// NewFeedbackHandler creates a FeedbackHandler.
func NewFeedbackHandler(ledger *reputation.Ledger, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{ledger: ledger, logger: logger}
}

// Register mounts the reputation routes.
func (h *FeedbackHandler) Register(public, authed *gin.RouterGroup) {
	public.GET("/agents/:id/feedback", h.ReadAll)
	public.GET("/agents/:id/feedback/:client/:index", h.Read)
	public.GET("/agents/:id/feedback/:client/:index/responses", h.ResponseCount)
	public.GET("/agents/:id/feedback-summary", h.Summary)
	public.GET("/agents/:id/clients", h.Clients)
	public.GET("/agents/:id/last-index/:client", h.LastIndex)

	authed.POST("/agents/:id/feedback", h.Give)
	authed.DELETE("/agents/:id/feedback/:index", h.Revoke)
	authed.POST("/agents/:id/feedback/:client/:index/responses", h.Respond)
}

// pathClient parses the :client path parameter.
func pathClient(c *gin.Context) (common.Address, bool) {
	addr, ok := parseAddress(c.Param("client"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client must be 0x-prefixed hex"})
	}
	return addr, ok
}

// pathIndex parses the :index path parameter.
func pathIndex(c *gin.Context) (uint64, bool) {
	idx, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil || idx == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a positive integer"})
		return 0, false
	}
	return idx, true
}

// queryClients parses the comma-separated clients query parameter.
func queryClients(c *gin.Context) ([]common.Address, bool) {
	raw := c.Query("clients")
	if raw == "" {
		return nil, true
	}
	var out []common.Address
	for _, s := range strings.Split(raw, ",") {
		addr, ok := parseAddress(strings.TrimSpace(s))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "clients must be 0x-prefixed hex addresses"})
			return nil, false
		}
		out = append(out, addr)
	}
	return out, true
}

type giveFeedbackRequest struct {
	Value       int64  `json:"value"`
	Decimals    uint8  `json:"decimals"`
	Tag1        string `json:"tag1"`
	Tag2        string `json:"tag2"`
	EndpointRef string `json:"endpoint_ref"`
	DocRef      string `json:"doc_ref"`
	ContentHash string `json:"content_hash"` // 0x-hex, optional
}

// Give handles POST /agents/:id/feedback.
func (h *FeedbackHandler) Give(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req giveFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var contentHash common.Hash
	if req.ContentHash != "" {
		contentHash = common.HexToHash(req.ContentHash)
	}

	index, err := h.ledger.GiveFeedback(c.Request.Context(), caller, id,
		req.Value, req.Decimals, req.Tag1, req.Tag2,
		req.EndpointRef, req.DocRef, contentHash)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"agent_id": id,
		"client":   caller.Hex(),
		"index":    index,
	})
}

// Revoke handles DELETE /agents/:id/feedback/:index — the caller revokes
// their own entry at that index.
func (h *FeedbackHandler) Revoke(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	idx, ok := pathIndex(c)
	if !ok {
		return
	}
	if err := h.ledger.RevokeFeedback(c.Request.Context(), caller, id, idx); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "index": idx, "revoked": true})
}

type respondRequest struct {
	ResponseRef  string `json:"response_ref"`
	ResponseHash string `json:"response_hash"`
}

// Respond handles POST /agents/:id/feedback/:client/:index/responses.
func (h *FeedbackHandler) Respond(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	client, ok := pathClient(c)
	if !ok {
		return
	}
	idx, ok := pathIndex(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var responseHash common.Hash
	if req.ResponseHash != "" {
		responseHash = common.HexToHash(req.ResponseHash)
	}
	if err := h.ledger.AppendResponse(c.Request.Context(), caller, id, client, idx, req.ResponseRef, responseHash); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent_id": id, "client": client.Hex(), "index": idx})
}

// Read handles GET /agents/:id/feedback/:client/:index.
func (h *FeedbackHandler) Read(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	client, ok := pathClient(c)
	if !ok {
		return
	}
	idx, ok := pathIndex(c)
	if !ok {
		return
	}
	fb, err := h.ledger.Read(id, client, idx)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fb)
}

// ReadAll handles GET /agents/:id/feedback. An empty clients query scans the
// agent's whole client set.
func (h *FeedbackHandler) ReadAll(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	clients, ok := queryClients(c)
	if !ok {
		return
	}
	includeRevoked := c.Query("include_revoked") == "true"

	page, err := h.ledger.ReadAll(id, clients, c.Query("tag1"), c.Query("tag2"), includeRevoked)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Summary handles GET /agents/:id/feedback-summary. The clients query is
// mandatory here; the ledger rejects unbounded scans.
func (h *FeedbackHandler) Summary(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	clients, ok := queryClients(c)
	if !ok {
		return
	}
	count, average, err := h.ledger.Summary(id, clients, c.Query("tag1"), c.Query("tag2"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": id,
		"count":    count,
		"average":  average,
	})
}

// Clients handles GET /agents/:id/clients.
func (h *FeedbackHandler) Clients(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	clients := h.ledger.Clients(id)
	hexes := make([]string, len(clients))
	for i, a := range clients {
		hexes[i] = a.Hex()
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "clients": hexes})
}

// LastIndex handles GET /agents/:id/last-index/:client.
func (h *FeedbackHandler) LastIndex(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	client, ok := pathClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":   id,
		"client":     client.Hex(),
		"last_index": h.ledger.LastIndex(id, client),
	})
}

// ResponseCount handles GET /agents/:id/feedback/:client/:index/responses.
// With a responders query it counts distinct named responders; without, the
// raw total.
func (h *FeedbackHandler) ResponseCount(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	client, ok := pathClient(c)
	if !ok {
		return
	}
	idx, ok := pathIndex(c)
	if !ok {
		return
	}

	var responders []common.Address
	if raw := c.Query("responders"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			addr, ok := parseAddress(strings.TrimSpace(s))
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "responders must be 0x-prefixed hex addresses"})
				return
			}
			responders = append(responders, addr)
		}
	}

	count, err := h.ledger.ResponseCount(id, client, idx, responders)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "client": client.Hex(), "index": idx, "count": count})
}
