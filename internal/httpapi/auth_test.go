package httpapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

func TestLogin_roundtrip(t *testing.T) {
	env := setupEnv(t)
	key, addr := newKey(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/challenge", "", gin.H{"address": addr.Hex()})
	if w.Code != http.StatusOK {
		t.Fatalf("challenge: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	nonce := resp["nonce"].(string)
	deadline := time.Unix(int64(resp["deadline"].(float64)), 0)

	sig, err := sigcheck.Sign(sigcheck.SessionLogin(addr, nonce, deadline), key)
	if err != nil {
		t.Fatalf("sign nonce: %v", err)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"address":   addr.Hex(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	token := decode(t, w)["token"].(string)

	// The token works against an authenticated route.
	w = env.do(t, http.MethodPost, "/api/v1/agents", token, gin.H{"uri": "https://a.example/card.json"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register with session token: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_nonceIsSingleUse(t *testing.T) {
	env := setupEnv(t)
	key, addr := newKey(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/challenge", "", gin.H{"address": addr.Hex()})
	resp := decode(t, w)
	nonce := resp["nonce"].(string)
	deadline := time.Unix(int64(resp["deadline"].(float64)), 0)

	sig, err := sigcheck.Sign(sigcheck.SessionLogin(addr, nonce, deadline), key)
	if err != nil {
		t.Fatalf("sign nonce: %v", err)
	}
	body := gin.H{"address": addr.Hex(), "nonce": nonce, "signature": hexutil.Encode(sig)}

	if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", body); w.Code != http.StatusOK {
		t.Fatalf("first login: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("replayed login: expected 401, got %d", w.Code)
	}
}

func TestLogin_wrongKeyRejected(t *testing.T) {
	env := setupEnv(t)
	_, addr := newKey(t)
	otherKey, _ := newKey(t)

	w := env.do(t, http.MethodPost, "/api/v1/auth/challenge", "", gin.H{"address": addr.Hex()})
	resp := decode(t, w)
	nonce := resp["nonce"].(string)
	deadline := time.Unix(int64(resp["deadline"].(float64)), 0)

	sig, err := sigcheck.Sign(sigcheck.SessionLogin(addr, nonce, deadline), otherKey)
	if err != nil {
		t.Fatalf("sign nonce: %v", err)
	}
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"address":   addr.Hex(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRequireAuth_missingToken(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/agents", "", gin.H{"uri": "https://a.example"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", w.Code)
	}
}

func TestRequireAuth_garbageToken(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/agents", "not-a-jwt", gin.H{"uri": "https://a.example"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
}

// signatureCheckCount reads the signature-check counter for one outcome from
// the process-wide metrics registry.
func signatureCheckCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "agentledger_signature_checks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLogin_countsSignatureChecks(t *testing.T) {
	env := setupEnv(t)
	key, addr := newKey(t)
	otherKey, _ := newKey(t)

	validBefore := signatureCheckCount(t, "valid")
	invalidBefore := signatureCheckCount(t, "invalid")

	w := env.do(t, http.MethodPost, "/api/v1/auth/challenge", "", gin.H{"address": addr.Hex()})
	resp := decode(t, w)
	nonce := resp["nonce"].(string)
	deadline := time.Unix(int64(resp["deadline"].(float64)), 0)

	sig, err := sigcheck.Sign(sigcheck.SessionLogin(addr, nonce, deadline), key)
	if err != nil {
		t.Fatalf("sign nonce: %v", err)
	}
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"address":   addr.Hex(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/challenge", "", gin.H{"address": addr.Hex()})
	resp = decode(t, w)
	nonce = resp["nonce"].(string)
	deadline = time.Unix(int64(resp["deadline"].(float64)), 0)

	sig, err = sigcheck.Sign(sigcheck.SessionLogin(addr, nonce, deadline), otherKey)
	if err != nil {
		t.Fatalf("sign nonce: %v", err)
	}
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{
		"address":   addr.Hex(),
		"nonce":     nonce,
		"signature": hexutil.Encode(sig),
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong-key login: expected 401, got %d", w.Code)
	}

	if got := signatureCheckCount(t, "valid") - validBefore; got != 1 {
		t.Errorf("valid signature checks: expected 1, got %v", got)
	}
	if got := signatureCheckCount(t, "invalid") - invalidBefore; got != 1 {
		t.Errorf("invalid signature checks: expected 1, got %v", got)
	}
}
