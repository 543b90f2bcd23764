// Package health periodically dereferences registered passport pointers and
// tracks which agents currently serve a valid document. The ledger itself
// never fetches pointers; reachability is an observation layered on top.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/ledger/identity"
	"github.com/arcadian-labs/agentledger/pkg/passport"
	"github.com/arcadian-labs/agentledger/pkg/uri"
)

// Status of one agent's passport pointer.
type Status string

const (
	// StatusUnknown means the agent has not been probed yet.
	StatusUnknown Status = "unknown"
	// StatusHealthy means the last probe returned a valid passport.
	StatusHealthy Status = "healthy"
	// StatusDegraded means probes have failed FailThreshold times in a row.
	StatusDegraded Status = "degraded"
)

// Config tunes the probe loop. Zero values pick the defaults.
type Config struct {
	Interval      time.Duration // default 5m
	ProbeTimeout  time.Duration // default 10s
	FailThreshold int           // default 3
	IPFSGateway   string        // default uri.DefaultIPFSGateway
}

// PointerSource enumerates live agents and their passport pointers.
// *identity.Ledger satisfies this.
type PointerSource interface {
	Pointers() []identity.AgentPointer
}

// Report is the externally visible probe state of one agent.
type Report struct {
	Status      Status    `json:"status"`
	Failures    int       `json:"consecutive_failures"`
	LastChecked time.Time `json:"last_checked,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Checker runs the probe loop and answers status queries.
type Checker struct {
	source PointerSource
	client *http.Client
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	reports map[uint64]*Report
}

func New(source PointerSource, cfg Config, logger *zap.Logger) *Checker {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		source:  source,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:     cfg,
		logger:  logger,
		reports: make(map[uint64]*Report),
	}
}

// Run probes every cfg.Interval until ctx is cancelled. The first sweep
// starts immediately.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	c.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep probes all live agents once and drops state for destroyed ones.
func (c *Checker) Sweep(ctx context.Context) {
	pointers := c.source.Pointers()

	live := make(map[uint64]bool, len(pointers))
	for _, p := range pointers {
		live[p.ID] = true
		err := c.probe(ctx, p.URI)
		c.record(p.ID, err)
		if ctx.Err() != nil {
			return
		}
	}

	c.mu.Lock()
	for id := range c.reports {
		if !live[id] {
			delete(c.reports, id)
		}
	}
	c.mu.Unlock()
}

// Report returns the probe state for id. Agents never probed (or not
// registered) report StatusUnknown.
func (c *Checker) Report(id uint64) Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.reports[id]; ok {
		return *r
	}
	return Report{Status: StatusUnknown}
}

func (c *Checker) record(id uint64, probeErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[id]
	if !ok {
		r = &Report{Status: StatusUnknown}
		c.reports[id] = r
	}
	r.LastChecked = time.Now().UTC()
	if probeErr == nil {
		r.Status = StatusHealthy
		r.Failures = 0
		r.LastError = ""
		return
	}
	r.Failures++
	r.LastError = probeErr.Error()
	if r.Failures >= c.cfg.FailThreshold {
		if r.Status != StatusDegraded {
			c.logger.Warn("agent passport degraded",
				zap.Uint64("agent_id", id),
				zap.Int("failures", r.Failures),
				zap.String("error", r.LastError))
		}
		r.Status = StatusDegraded
	}
}

// probe dereferences one pointer and checks that a structurally valid
// passport comes back. Signature verification is left to consumers; a probe
// only establishes that the document is being served.
func (c *Checker) probe(ctx context.Context, rawPointer string) error {
	ptr, err := uri.Parse(rawPointer)
	if err != nil {
		return err
	}
	if ptr.Kind == uri.KindInline {
		_, err := passport.Parse(ptr.Inline)
		return err
	}

	fetchURL, _ := ptr.FetchURL(c.cfg.IPFSGateway)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("passport endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	_, err = passport.Parse(body)
	return err
}
