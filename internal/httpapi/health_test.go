package httpapi_test

import (
	"net/http"
	"testing"
)

func TestAgentHealth_unprobedReportsUnknown(t *testing.T) {
	env := setupEnv(t)
	_, addr := newKey(t)
	id := env.registerAgent(t, addr, "https://example.com/passport.json")

	w := env.do(t, http.MethodGet, "/api/v1/agents/1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if uint64(resp["agent_id"].(float64)) != id {
		t.Errorf("agent_id = %v, want %d", resp["agent_id"], id)
	}
	h, ok := resp["health"].(map[string]any)
	if !ok || h["status"] != "unknown" {
		t.Errorf("health = %v, want status unknown", resp["health"])
	}
}

func TestAgentHealth_badID(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/agents/zero/health", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", w.Code)
	}
}
