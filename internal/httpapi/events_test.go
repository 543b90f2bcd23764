package httpapi_test

import (
	"net/http"
	"testing"
)

func TestEventsList(t *testing.T) {
	env := setupEnv(t)
	_, owner := newKey(t)

	env.registerAgent(t, owner, "https://a.example")
	env.registerAgent(t, owner, "https://b.example")

	w := env.do(t, http.MethodGet, "/api/v1/events", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if total := int(resp["total"].(float64)); total != 3 { // genesis + 2 registrations
		t.Errorf("expected 3 events, got %d", total)
	}
	if resp["root"] == "" {
		t.Errorf("expected non-empty root hash")
	}
}

func TestEventsVerify(t *testing.T) {
	env := setupEnv(t)
	_, owner := newKey(t)
	env.registerAgent(t, owner, "https://a.example")

	w := env.do(t, http.MethodGet, "/api/v1/events/verify", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["valid"] != true {
		t.Errorf("expected valid chain, got %s", w.Body.String())
	}
}

func TestEventsGetEntry(t *testing.T) {
	env := setupEnv(t)

	if w := env.do(t, http.MethodGet, "/api/v1/events/entries/0", "", nil); w.Code != http.StatusOK {
		t.Fatalf("genesis: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/events/entries/99", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("out of range: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/events/entries/abc", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("garbage idx: expected 400, got %d", w.Code)
	}
}
