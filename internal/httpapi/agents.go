package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
	"github.com/arcadian-labs/agentledger/pkg/regerr"
)

// AgentHandler exposes the identity ledger.
type AgentHandler struct {
	ledger *identity.Ledger
	logger *zap.Logger
}

// NewAgentHandler creates an AgentHandler.
func NewAgentHandler(ledger *identity.Ledger, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{ledger: ledger, logger: logger}
}

// Register mounts the identity routes. mutating routes expect RequireAuth to
// have resolved the caller already.
func (h *AgentHandler) Register(public, authed *gin.RouterGroup) {
	public.GET("/agents/:id", h.Get)
	public.GET("/agents/:id/wallet", h.GetWallet)
	public.GET("/agents/:id/metadata/:key", h.GetMetadata)
	public.GET("/owners/:addr/agents", h.OwnersAgents)

	authed.POST("/agents", h.RegisterAgent)
	authed.POST("/delegated-registrations", h.RegisterDelegated)
	authed.POST("/agents/:id/transfer", h.Transfer)
	authed.PUT("/agents/:id/uri", h.SetURI)
	authed.PUT("/agents/:id/metadata/:key", h.SetMetadata)
	authed.PUT("/agents/:id/wallet", h.SetWallet)
	authed.DELETE("/agents/:id/wallet", h.UnsetWallet)
	authed.POST("/agents/:id/approve", h.Approve)
	authed.POST("/operators", h.SetOperator)
	authed.DELETE("/agents/:id", h.Destroy)
}

// agentID parses the :id path parameter; 0 is never a valid id.
func agentID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

type metadataEntry struct {
	Key   string `json:"key" binding:"required"`
	Value []byte `json:"value"`
}

type registerRequest struct {
	URI      string          `json:"uri"`
	Metadata []metadataEntry `json:"metadata"`
}

// RegisterAgent handles POST /agents.
func (h *AgentHandler) RegisterAgent(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated caller"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metadata := make([]identity.MetadataEntry, 0, len(req.Metadata))
	for _, m := range req.Metadata {
		metadata = append(metadata, identity.MetadataEntry{Key: m.Key, Value: m.Value})
	}

	id, err := h.ledger.Register(c.Request.Context(), caller, req.URI, metadata)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "owner": caller.Hex()})
}

type registerDelegatedRequest struct {
	URI       string `json:"uri" binding:"required"`
	Owner     string `json:"owner" binding:"required"`
	Deadline  int64  `json:"deadline" binding:"required"` // unix seconds
	Signature string `json:"signature" binding:"required"`
}

// RegisterDelegated handles POST /delegated-registrations. The authenticated caller
// is the agent's own address; the body carries the owner's authorization.
func (h *AgentHandler) RegisterDelegated(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated caller"})
		return
	}
	var req registerDelegatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, ok := parseAddress(req.Owner)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner must be 0x-prefixed hex"})
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be 0x-prefixed hex"})
		return
	}

	id, err := h.ledger.RegisterDelegated(c.Request.Context(), caller, req.URI, owner, time.Unix(req.Deadline, 0), sig)
	if err != nil {
		if errors.Is(err, regerr.ErrSignature) {
			RecordSignatureCheck(false)
		}
		fail(c, err)
		return
	}
	RecordSignatureCheck(true)
	c.JSON(http.StatusCreated, gin.H{
		"id":            id,
		"owner":         owner.Hex(),
		"agent_address": caller.Hex(),
	})
}

// Get handles GET /agents/:id.
func (h *AgentHandler) Get(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	a, err := h.ledger.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type transferRequest struct {
	NewOwner string `json:"new_owner" binding:"required"`
}

// Transfer handles POST /agents/:id/transfer.
func (h *AgentHandler) Transfer(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newOwner, ok := parseAddress(req.NewOwner)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_owner must be 0x-prefixed hex"})
		return
	}
	if err := h.ledger.Transfer(c.Request.Context(), caller, id, newOwner); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "new_owner": newOwner.Hex()})
}

type setURIRequest struct {
	URI string `json:"uri" binding:"required"`
}

// SetURI handles PUT /agents/:id/uri. The response carries both old and new
// values so consumers can invalidate caches.
func (h *AgentHandler) SetURI(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req setURIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	old, err := h.ledger.SetURI(c.Request.Context(), caller, id, req.URI)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "old_uri": old, "new_uri": req.URI})
}

type setMetadataRequest struct {
	Value []byte `json:"value"`
}

// SetMetadata handles PUT /agents/:id/metadata/:key.
func (h *AgentHandler) SetMetadata(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req setMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ledger.SetMetadata(c.Request.Context(), caller, id, c.Param("key"), req.Value); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "key": c.Param("key")})
}

// GetMetadata handles GET /agents/:id/metadata/:key.
func (h *AgentHandler) GetMetadata(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	value, err := h.ledger.GetMetadata(id, c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "key": c.Param("key"), "value": value})
}

type setWalletRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Deadline  int64  `json:"deadline" binding:"required"`
	Signature string `json:"signature" binding:"required"` // proof of control by the wallet itself
}

// SetWallet handles PUT /agents/:id/wallet.
func (h *AgentHandler) SetWallet(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req setWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet, ok := parseAddress(req.Wallet)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet must be 0x-prefixed hex"})
		return
	}
	proof, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be 0x-prefixed hex"})
		return
	}
	if err := h.ledger.SetWallet(c.Request.Context(), caller, id, wallet, time.Unix(req.Deadline, 0), proof); err != nil {
		if errors.Is(err, regerr.ErrSignature) {
			RecordSignatureCheck(false)
		}
		fail(c, err)
		return
	}
	RecordSignatureCheck(true)
	c.JSON(http.StatusOK, gin.H{"id": id, "wallet": wallet.Hex()})
}

// UnsetWallet handles DELETE /agents/:id/wallet.
func (h *AgentHandler) UnsetWallet(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	if err := h.ledger.UnsetWallet(c.Request.Context(), caller, id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// GetWallet handles GET /agents/:id/wallet.
func (h *AgentHandler) GetWallet(c *gin.Context) {
	id, ok := agentID(c)
	if !ok {
		return
	}
	wallet, err := h.ledger.Wallet(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "wallet": wallet.Hex()})
}

type approveRequest struct {
	Delegate string `json:"delegate" binding:"required"`
}

// Approve handles POST /agents/:id/approve. The zero address clears the
// delegate.
func (h *AgentHandler) Approve(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	delegate, ok := parseAddress(req.Delegate)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "delegate must be 0x-prefixed hex"})
		return
	}
	if err := h.ledger.Approve(c.Request.Context(), caller, id, delegate); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "delegate": delegate.Hex()})
}

type operatorRequest struct {
	Operator string `json:"operator" binding:"required"`
	Granted  bool   `json:"granted"`
}

// SetOperator handles POST /operators.
func (h *AgentHandler) SetOperator(c *gin.Context) {
	caller, _ := callerAddress(c)
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operator, ok := parseAddress(req.Operator)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator must be 0x-prefixed hex"})
		return
	}
	if err := h.ledger.SetOperator(c.Request.Context(), caller, operator, req.Granted); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator": operator.Hex(), "granted": req.Granted})
}

// Destroy handles DELETE /agents/:id.
func (h *AgentHandler) Destroy(c *gin.Context) {
	caller, _ := callerAddress(c)
	id, ok := agentID(c)
	if !ok {
		return
	}
	if err := h.ledger.Destroy(c.Request.Context(), caller, id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "destroyed": true})
}

// OwnersAgents handles GET /owners/:addr/agents.
func (h *AgentHandler) OwnersAgents(c *gin.Context) {
	owner, ok := parseAddress(c.Param("addr"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "addr must be 0x-prefixed hex"})
		return
	}
	ids := h.ledger.AgentsOf(owner)
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "agents": ids})
}
