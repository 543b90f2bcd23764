package httpapi_test

import (
	"net/http"
	"testing"
)

func TestWebhookSubscribeAndList(t *testing.T) {
	env := setupEnv(t)
	_, addr := newKey(t)
	token := env.sessionFor(t, addr)

	w := env.do(t, http.MethodPost, "/api/v1/webhooks", token, map[string]any{
		"url":    "http://example.com/hook",
		"events": []string{"agent.registered", "feedback.given"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe: got %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["secret"] == "" || resp["secret"] == nil {
		t.Fatal("secret missing from creation response")
	}
	sub, ok := resp["subscription"].(map[string]any)
	if !ok {
		t.Fatalf("subscription missing from response: %v", resp)
	}
	if _, leaked := sub["secret"]; leaked {
		t.Error("secret must not appear inside the subscription object")
	}

	w = env.do(t, http.MethodGet, "/api/v1/webhooks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	subs, ok := decode(t, w)["subscriptions"].([]any)
	if !ok || len(subs) != 1 {
		t.Fatalf("expected one subscription, got %v", subs)
	}
}

func TestWebhookSubscribe_validation(t *testing.T) {
	env := setupEnv(t)
	_, addr := newKey(t)
	token := env.sessionFor(t, addr)

	w := env.do(t, http.MethodPost, "/api/v1/webhooks", token, map[string]any{
		"url":    "not a url",
		"events": []string{"*"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad url: got %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/webhooks", token, map[string]any{
		"url":    "http://example.com/hook",
		"events": []string{"no.such.event"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown event: got %d, want 400", w.Code)
	}
}

func TestWebhookUnsubscribe(t *testing.T) {
	env := setupEnv(t)
	_, addr := newKey(t)
	token := env.sessionFor(t, addr)

	w := env.do(t, http.MethodPost, "/api/v1/webhooks", token, map[string]any{
		"url":    "http://example.com/hook",
		"events": []string{"*"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("subscribe: got %d", w.Code)
	}
	sub := decode(t, w)["subscription"].(map[string]any)
	id := sub["id"].(string)

	_, strangerAddr := newKey(t)
	stranger := env.sessionFor(t, strangerAddr)
	w = env.do(t, http.MethodDelete, "/api/v1/webhooks/"+id, stranger, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("stranger delete: got %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/webhooks/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("owner delete: got %d, want 200", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/webhooks/not-a-uuid", token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d, want 400", w.Code)
	}
}

func TestWebhookRoutes_requireAuth(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/webhooks", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: got %d, want 401", w.Code)
	}
}
