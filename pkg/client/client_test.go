package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/internal/httpapi"
	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
	"github.com/arcadian-labs/agentledger/internal/ledger/names"
	"github.com/arcadian-labs/agentledger/internal/ledger/reputation"
	"github.com/arcadian-labs/agentledger/pkg/client"
	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

// startRegistry boots a real registry on an httptest server so the SDK is
// exercised end to end, login flow included.
func startRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	events := eventlog.New()
	verifier := sigcheck.New()
	idLedger := identity.New(verifier, events, logger)
	repLedger := reputation.New(idLedger, events, logger)
	resolver := names.New(idLedger, events, logger)
	tokens := httpapi.NewTokenIssuer([]byte("sdk-test-secret"), "http://registry.test", 0)

	r := gin.New()
	v1 := r.Group("/api/v1")
	authed := r.Group("/api/v1")
	authed.Use(httpapi.RequireAuth(tokens))

	httpapi.NewAuthHandler(verifier, tokens, logger).Register(v1)
	httpapi.NewAgentHandler(idLedger, logger).Register(v1, authed)
	httpapi.NewFeedbackHandler(repLedger, logger).Register(v1, authed)
	httpapi.NewNameHandler(resolver, logger).Register(v1, authed)
	httpapi.NewEventHandler(events, logger).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newSDK(t *testing.T, base string) *client.Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := client.New(base, client.WithKey(key))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestSDK_agentLifecycle(t *testing.T) {
	srv := startRegistry(t)
	ctx := context.Background()
	sdk := newSDK(t, srv.URL)

	id, err := sdk.RegisterAgent(ctx, "https://a.example/card.json", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero agent id")
	}

	a, err := sdk.GetAgent(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Owner != sdk.Address() || a.URI != "https://a.example/card.json" {
		t.Errorf("unexpected agent record: %+v", a)
	}

	old, err := sdk.SetURI(ctx, id, "https://a.example/v2.json")
	if err != nil {
		t.Fatalf("set uri: %v", err)
	}
	if old != "https://a.example/card.json" {
		t.Errorf("expected old uri back, got %q", old)
	}

	if err := sdk.SetMetadata(ctx, id, "model", []byte("m-7")); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	value, err := sdk.GetMetadata(ctx, id, "model")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if string(value) != "m-7" {
		t.Errorf("expected metadata m-7, got %q", value)
	}

	owned, err := sdk.AgentsOf(ctx, sdk.Address())
	if err != nil {
		t.Fatalf("agents of: %v", err)
	}
	if len(owned) != 1 || owned[0] != id {
		t.Errorf("expected owned [%d], got %v", id, owned)
	}

	if err := sdk.Destroy(ctx, id); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := sdk.GetAgent(ctx, id); err == nil {
		t.Fatal("expected error reading destroyed agent")
	}
}

func TestSDK_errorCarriesStatus(t *testing.T) {
	srv := startRegistry(t)
	sdk := newSDK(t, srv.URL)

	_, err := sdk.GetAgent(context.Background(), 12345)
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
	apiErr, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("expected *client.APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 404 {
		t.Errorf("expected 404, got %d", apiErr.StatusCode)
	}
}

func TestSDK_feedbackFlow(t *testing.T) {
	srv := startRegistry(t)
	ctx := context.Background()
	owner := newSDK(t, srv.URL)
	reviewer := newSDK(t, srv.URL)

	id, err := owner.RegisterAgent(ctx, "https://a.example", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, v := range []int64{70, 90} {
		if _, err := reviewer.GiveFeedback(ctx, id, client.GiveFeedbackRequest{Value: v, Tag1: "quality"}); err != nil {
			t.Fatalf("give feedback %d: %v", v, err)
		}
	}

	count, average, err := owner.FeedbackSummary(ctx, id, client.FeedbackFilter{
		Clients: []common.Address{reviewer.Address()},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if count != 2 || average != 80 {
		t.Errorf("expected count=2 average=80, got %d/%d", count, average)
	}

	if err := owner.RespondToFeedback(ctx, id, reviewer.Address(), 1, "ipfs://resp", common.Hash{}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	if err := reviewer.RevokeFeedback(ctx, id, 2); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	page, err := owner.ReadAllFeedback(ctx, id, client.FeedbackFilter{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(page.Values) != 1 || page.Values[0] != 70 {
		t.Errorf("expected single live entry 70, got %v", page.Values)
	}
}

func TestSDK_namesAndEvents(t *testing.T) {
	srv := startRegistry(t)
	ctx := context.Background()
	sdk := newSDK(t, srv.URL)

	id, err := sdk.RegisterAgent(ctx, "https://a.example", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := sdk.RegisterName(ctx, "vpn", id); err != nil {
		t.Fatalf("register name: %v", err)
	}
	resolved, err := sdk.ResolveName(ctx, "vpn")
	if err != nil || resolved != id {
		t.Fatalf("resolve: got %d, %v", resolved, err)
	}
	name, err := sdk.AgentName(ctx, id)
	if err != nil || name != "vpn" {
		t.Fatalf("reverse resolve: got %q, %v", name, err)
	}

	page, err := sdk.Events(ctx, 0, 100)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if page.Total != 3 { // genesis + registration + name binding
		t.Errorf("expected 3 events, got %d", page.Total)
	}
	if err := sdk.VerifyEvents(ctx); err != nil {
		t.Errorf("verify events: %v", err)
	}
}

func TestSDK_walletProofHelper(t *testing.T) {
	srv := startRegistry(t)
	ctx := context.Background()
	sdk := newSDK(t, srv.URL)

	id, err := sdk.RegisterAgent(ctx, "https://a.example", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	walletKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate wallet key: %v", err)
	}
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)
	deadline := time.Now().Add(time.Hour).Truncate(time.Second)
	proof, err := sigcheck.Sign(sigcheck.WalletProof(id, wallet, deadline), walletKey)
	if err != nil {
		t.Fatalf("sign proof: %v", err)
	}

	if err := sdk.SetWallet(ctx, id, wallet, deadline, proof); err != nil {
		t.Fatalf("set wallet: %v", err)
	}
	got, err := sdk.Wallet(ctx, id)
	if err != nil || got != wallet {
		t.Fatalf("wallet readback: got %s, %v", got.Hex(), err)
	}
}
