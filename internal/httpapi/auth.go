package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

// callerKey is the gin context key holding the authenticated caller address.
const callerKey = "caller_address"

// challengeTTL bounds how long a login nonce stays redeemable.
const challengeTTL = 5 * time.Minute

// SessionClaims are the JWT claims of an API session token. The subject is
// the proven address in 0x-hex form.
type SessionClaims struct {
	jwt.RegisteredClaims
	Address string `json:"address"`
}

// TokenIssuer issues and verifies session JWTs with an HMAC secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. ttl of 0 defaults to 24 hours.
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed session token for address.
func (t *TokenIssuer) Issue(address common.Address) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   address.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Address: address.Hex(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning the proven address.
func (t *TokenIssuer) Verify(tokenStr string) (common.Address, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || !common.IsHexAddress(claims.Address) {
		return common.Address{}, fmt.Errorf("invalid session token claims")
	}
	return common.HexToAddress(claims.Address), nil
}

// challenge is one outstanding login nonce.
type challenge struct {
	address  common.Address
	deadline time.Time
}

// AuthHandler implements signature challenge/response login: the caller
// proves control of an address by signing a server nonce, and receives a
// session token in exchange. The ledgers only ever see addresses.
type AuthHandler struct {
	verifier *sigcheck.Verifier
	tokens   *TokenIssuer
	logger   *zap.Logger

	mu         sync.Mutex
	challenges map[string]challenge
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(verifier *sigcheck.Verifier, tokens *TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		verifier:   verifier,
		tokens:     tokens,
		logger:     logger,
		challenges: make(map[string]challenge),
	}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/challenge", h.Challenge)
		auth.POST("/login", h.Login)
	}
}

type challengeRequest struct {
	Address string `json:"address" binding:"required"`
}

// Challenge handles POST /auth/challenge — issues a one-time nonce the
// caller must sign to prove control of the address.
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be 0x-prefixed hex"})
		return
	}

	nonce := uuid.New().String()
	deadline := time.Now().UTC().Add(challengeTTL)

	h.mu.Lock()
	// Opportunistic cleanup of expired nonces; the map stays small.
	for n, ch := range h.challenges {
		if time.Now().After(ch.deadline) {
			delete(h.challenges, n)
		}
	}
	h.challenges[nonce] = challenge{address: addr, deadline: deadline}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"nonce":    nonce,
		"deadline": deadline.Unix(),
	})
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"` // 0x-hex
}

// Login handles POST /auth/login — redeems a signed nonce for a session
// token. Each nonce is single-use.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be 0x-prefixed hex"})
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be 0x-prefixed hex"})
		return
	}

	h.mu.Lock()
	ch, found := h.challenges[req.Nonce]
	if found {
		delete(h.challenges, req.Nonce)
	}
	h.mu.Unlock()

	if !found || ch.address != addr {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or mismatched nonce"})
		return
	}

	msg := sigcheck.SessionLogin(addr, req.Nonce, ch.deadline)
	if err := h.verifier.Verify(msg, addr, sig); err != nil {
		RecordSignatureCheck(false)
		h.logger.Warn("login signature rejected", zap.String("address", addr.Hex()), zap.Error(err))
		fail(c, err)
		return
	}
	RecordSignatureCheck(true)

	token, err := h.tokens.Issue(addr)
	if err != nil {
		h.logger.Error("issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"address": addr.Hex(),
	})
}

// RequireAuth returns a middleware that resolves the Bearer session token to
// a caller address and aborts unauthenticated requests.
func RequireAuth(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		addr, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		c.Set(callerKey, addr)
		c.Next()
	}
}
