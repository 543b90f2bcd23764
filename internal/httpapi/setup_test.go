package httpapi_test

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/internal/health"
	"github.com/arcadian-labs/agentledger/internal/httpapi"
	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
	"github.com/arcadian-labs/agentledger/internal/ledger/names"
	"github.com/arcadian-labs/agentledger/internal/ledger/reputation"
	"github.com/arcadian-labs/agentledger/internal/webhooks"
	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

// testEnv is one fully wired API instance backed by in-memory ledgers.
type testEnv struct {
	router   *gin.Engine
	tokens   *httpapi.TokenIssuer
	verifier *sigcheck.Verifier
	identity *identity.Ledger
	events   *eventlog.MemoryLog
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	events := eventlog.New()
	verifier := sigcheck.New()

	idLedger := identity.New(verifier, events, logger)
	repLedger := reputation.New(idLedger, events, logger)
	resolver := names.New(idLedger, events, logger)

	tokens := httpapi.NewTokenIssuer([]byte("test-secret"), "http://registry.test", 0)

	r := gin.New()
	v1 := r.Group("/api/v1")
	authed := r.Group("/api/v1")
	authed.Use(httpapi.RequireAuth(tokens))

	httpapi.NewAuthHandler(verifier, tokens, logger).Register(v1)
	httpapi.NewAgentHandler(idLedger, logger).Register(v1, authed)
	httpapi.NewFeedbackHandler(repLedger, logger).Register(v1, authed)
	httpapi.NewNameHandler(resolver, logger).Register(v1, authed)
	httpapi.NewEventHandler(events, logger).Register(v1)
	httpapi.NewWebhookHandler(webhooks.NewService(webhooks.NewMemoryStore(), logger), logger).Register(authed)
	httpapi.NewHealthHandler(health.New(idLedger, health.Config{}, logger)).Register(v1)

	return &testEnv{
		router:   r,
		tokens:   tokens,
		verifier: verifier,
		identity: idLedger,
		events:   events,
	}
}

// newKey generates a fresh secp256k1 keypair.
func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// sessionFor mints a session token directly; the challenge/login roundtrip
// has its own tests.
func (e *testEnv) sessionFor(t *testing.T, addr common.Address) string {
	t.Helper()
	token, err := e.tokens.Issue(addr)
	if err != nil {
		t.Fatalf("issue session token: %v", err)
	}
	return token
}

// do performs one request. body may be nil; token may be empty for public
// routes.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

// registerAgent registers an agent owned by addr and returns its id.
func (e *testEnv) registerAgent(t *testing.T, addr common.Address, uri string) uint64 {
	t.Helper()
	token := e.sessionFor(t, addr)
	w := e.do(t, http.MethodPost, "/api/v1/agents", token, gin.H{"uri": uri})
	if w.Code != http.StatusCreated {
		t.Fatalf("register agent: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return uint64(decode(t, w)["id"].(float64))
}
