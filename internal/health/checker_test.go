package health_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/health"
	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
)

type staticSource struct {
	pointers []identity.AgentPointer
}

func (s *staticSource) Pointers() []identity.AgentPointer { return s.pointers }

const passportJSON = `{
	"schema_version": "1.0",
	"agent_id": 1,
	"address": "0x1111111111111111111111111111111111111111",
	"endpoints": [{"protocol": "https", "url": "https://agent.example.com/a2a"}]
}`

func newChecker(src health.PointerSource, threshold int) *health.Checker {
	return health.New(src, health.Config{FailThreshold: threshold}, zap.NewNop())
}

func TestSweep_healthyPassport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, passportJSON)
	}))
	defer srv.Close()

	src := &staticSource{pointers: []identity.AgentPointer{{ID: 1, URI: srv.URL}}}
	c := newChecker(src, 3)
	c.Sweep(context.Background())

	r := c.Report(1)
	if r.Status != health.StatusHealthy {
		t.Fatalf("status = %q, want healthy (last error %q)", r.Status, r.LastError)
	}
	if r.Failures != 0 || r.LastChecked.IsZero() {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestSweep_degradesAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := &staticSource{pointers: []identity.AgentPointer{{ID: 4, URI: srv.URL}}}
	c := newChecker(src, 2)

	c.Sweep(context.Background())
	if got := c.Report(4).Status; got != health.StatusUnknown {
		t.Errorf("after one failure: status = %q, want unknown", got)
	}

	c.Sweep(context.Background())
	r := c.Report(4)
	if r.Status != health.StatusDegraded {
		t.Errorf("after two failures: status = %q, want degraded", r.Status)
	}
	if r.Failures != 2 || r.LastError == "" {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestSweep_recoveryResetsFailures(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, passportJSON)
	}))
	defer srv.Close()

	src := &staticSource{pointers: []identity.AgentPointer{{ID: 2, URI: srv.URL}}}
	c := newChecker(src, 1)

	c.Sweep(context.Background())
	if got := c.Report(2).Status; got != health.StatusDegraded {
		t.Fatalf("status = %q, want degraded", got)
	}

	broken.Store(false)
	c.Sweep(context.Background())
	r := c.Report(2)
	if r.Status != health.StatusHealthy || r.Failures != 0 || r.LastError != "" {
		t.Errorf("after recovery: %+v", r)
	}
}

func TestSweep_inlinePointer(t *testing.T) {
	inline := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(passportJSON))
	src := &staticSource{pointers: []identity.AgentPointer{{ID: 3, URI: inline}}}
	c := newChecker(src, 3)
	c.Sweep(context.Background())

	if got := c.Report(3).Status; got != health.StatusHealthy {
		t.Errorf("inline pointer status = %q, want healthy", got)
	}
}

func TestSweep_dropsDestroyedAgents(t *testing.T) {
	src := &staticSource{pointers: []identity.AgentPointer{{ID: 9, URI: "not a pointer"}}}
	c := newChecker(src, 1)
	c.Sweep(context.Background())
	if got := c.Report(9).Status; got != health.StatusDegraded {
		t.Fatalf("status = %q, want degraded", got)
	}

	src.pointers = nil
	c.Sweep(context.Background())
	if got := c.Report(9).Status; got != health.StatusUnknown {
		t.Errorf("after removal: status = %q, want unknown", got)
	}
}

func TestReport_unprobedAgent(t *testing.T) {
	c := newChecker(&staticSource{}, 3)
	if got := c.Report(42).Status; got != health.StatusUnknown {
		t.Errorf("status = %q, want unknown", got)
	}
}
