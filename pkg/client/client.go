// Package client is the Go SDK for the agentledger registry. It wraps the
// HTTP API with typed methods and handles the signature challenge/response
// login flow when constructed with a private key.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

// Client talks to one registry instance.
type Client struct {
	base       string
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	address    common.Address

	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithKey gives the client a signing key. The client logs in automatically
// and re-logs-in when the session approaches expiry; the address derived
// from the key is the caller identity for every mutating method.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) error {
		if key == nil {
			return fmt.Errorf("nil private key")
		}
		c.key = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
		return nil
	}
}

// WithBearerToken attaches a pre-obtained session token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// New creates a Client connected to base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Address returns the caller address derived from the signing key, or the
// zero address when the client was built without one.
func (c *Client) Address() common.Address { return c.address }

// Login performs the challenge/response flow and caches the session token.
// Requires WithKey.
func (c *Client) Login(ctx context.Context) error {
	token, expiry, err := c.loginRaw(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return nil
}

func (c *Client) loginRaw(ctx context.Context) (string, time.Time, error) {
	if c.key == nil {
		return "", time.Time{}, fmt.Errorf("no signing key; use WithKey or WithBearerToken")
	}

	var challenge struct {
		Nonce    string `json:"nonce"`
		Deadline int64  `json:"deadline"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/challenge", "",
		map[string]any{"address": c.address.Hex()}, &challenge); err != nil {
		return "", time.Time{}, fmt.Errorf("request challenge: %w", err)
	}

	deadline := time.Unix(challenge.Deadline, 0)
	sig, err := sigcheck.Sign(sigcheck.SessionLogin(c.address, challenge.Nonce, deadline), c.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign challenge: %w", err)
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"address":   c.address.Hex(),
		"nonce":     challenge.Nonce,
		"signature": hexutil.Encode(sig),
	}, &login); err != nil {
		return "", time.Time{}, fmt.Errorf("login: %w", err)
	}

	// Refresh well before the server-side TTL; the exact expiry is inside
	// the JWT and not worth parsing here.
	return login.Token, time.Now().Add(12 * time.Hour), nil
}

// ensureToken returns a valid bearer token, logging in if the cached one is
// absent or stale. Thread-safe.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	token, expiry, err := c.loginRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// APIError is a non-2xx response from the registry.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry error %d: %s", e.StatusCode, e.Message)
}

// doJSON performs one request with an explicit token ("" = unauthenticated)
// and decodes the JSON response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// authed performs one authenticated request, logging in first if needed.
func (c *Client) authed(ctx context.Context, method, path string, body, out any) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, method, path, token, body, out)
}

// public performs one unauthenticated request.
func (c *Client) public(ctx context.Context, method, path string, out any) error {
	return c.doJSON(ctx, method, path, "", nil, out)
}

func escape(s string) string { return url.QueryEscape(s) }
