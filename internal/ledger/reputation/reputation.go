// Package reputation implements the append-only feedback ledger: per-client
// monotonically indexed feedback entries, response threads, and filtered
// aggregation reads. Authorization queries are delegated synchronously to the
// identity ledger, so the self-review guard always sees the owner at call
// time, not at some earlier snapshot.
package reputation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/pkg/regerr"
)

// MaxDecimals bounds the fixed-point precision of feedback values.
const MaxDecimals = 18

// Feedback is a single client-authored entry about an agent, keyed by
// (agent, client, index) with index 1-based and monotonic per pair.
type Feedback struct {
	AgentID  uint64         `json:"agent_id"`
	Client   common.Address `json:"client"`
	Index    uint64         `json:"index"`
	Value    int64          `json:"value"`
	Decimals uint8          `json:"decimals"`
	Tag1     string         `json:"tag1,omitempty"`
	Tag2     string         `json:"tag2,omitempty"`

	// EndpointRef, DocRef, and ContentHash are opaque pointers to external
	// documents; the ledger stores and returns them verbatim.
	EndpointRef string      `json:"endpoint_ref,omitempty"`
	DocRef      string      `json:"doc_ref,omitempty"`
	ContentHash common.Hash `json:"content_hash"`

	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is the result of ReadAll: parallel slices, one element per matching
// entry, sized exactly to the number of matches.
type Page struct {
	Clients     []common.Address `json:"clients"`
	Indexes     []uint64         `json:"indexes"`
	Values      []int64          `json:"values"`
	Decimals    []uint8          `json:"decimals"`
	Tag1s       []string         `json:"tag1s"`
	Tag2s       []string         `json:"tag2s"`
	Revoked     []bool           `json:"revoked"`
	ContentHash []common.Hash    `json:"content_hashes"`
}

// respKey addresses one response thread.
type respKey struct {
	agentID uint64
	client  common.Address
	index   uint64
}

// responses tracks one feedback entry's response thread: the running total
// and which responders have responded at least once. A responder may respond
// multiple times; each response bumps the total.
type responses struct {
	total      uint64
	responders map[common.Address]bool
}

// OwnershipReader is the slice of the identity ledger the reputation ledger
// needs. *identity.Ledger satisfies this interface.
type OwnershipReader interface {
	OwnerOf(id uint64) (common.Address, error)
	IsAuthorized(id uint64, addr common.Address) (bool, error)
}

// Ledger is the reputation ledger.
type Ledger struct {
	identity OwnershipReader
	events   eventlog.Log
	logger   *zap.Logger

	mu       sync.Mutex
	feedback map[uint64]map[common.Address][]*Feedback
	// clients is the de-duplicated, insertion-ordered list of addresses that
	// have ever given feedback for an agent; clientSeen backs the de-dup.
	clients    map[uint64][]common.Address
	clientSeen map[uint64]map[common.Address]bool
	responses  map[respKey]*responses
}

// New creates an empty reputation ledger bound to an identity ledger.
func New(identity OwnershipReader, events eventlog.Log, logger *zap.Logger) *Ledger {
	return &Ledger{
		identity:   identity,
		events:     events,
		logger:     logger,
		feedback:   make(map[uint64]map[common.Address][]*Feedback),
		clients:    make(map[uint64][]common.Address),
		clientSeen: make(map[uint64]map[common.Address]bool),
		responses:  make(map[respKey]*responses),
	}
}

// GiveFeedback appends a new entry authored by caller and returns its
// 1-based index. The caller must not hold owner or delegate capability over
// the agent: owners reviewing themselves would make every aggregate
// worthless.
func (l *Ledger) GiveFeedback(ctx context.Context, caller common.Address, agentID uint64, value int64, decimals uint8, tag1, tag2, endpointRef, docRef string, contentHash common.Hash) (uint64, error) {
	if decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: decimals %d exceeds %d", regerr.ErrInvalid, decimals, MaxDecimals)
	}
	if caller == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero caller address", regerr.ErrInvalid)
	}

	// Self-review guard, evaluated against the owner at call time.
	authorized, err := l.identity.IsAuthorized(agentID, caller)
	if err != nil {
		return 0, err
	}
	if authorized {
		return 0, fmt.Errorf("%w: self-review: %s controls agent %d", regerr.ErrUnauthorized, caller.Hex(), agentID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.feedback[agentID] == nil {
		l.feedback[agentID] = make(map[common.Address][]*Feedback)
	}
	if !l.clientSeen[agentID][caller] {
		if l.clientSeen[agentID] == nil {
			l.clientSeen[agentID] = make(map[common.Address]bool)
		}
		l.clientSeen[agentID][caller] = true
		l.clients[agentID] = append(l.clients[agentID], caller)
	}

	index := uint64(len(l.feedback[agentID][caller])) + 1
	fb := &Feedback{
		AgentID:     agentID,
		Client:      caller,
		Index:       index,
		Value:       value,
		Decimals:    decimals,
		Tag1:        tag1,
		Tag2:        tag2,
		EndpointRef: endpointRef,
		DocRef:      docRef,
		ContentHash: contentHash,
		CreatedAt:   time.Now().UTC(),
	}
	l.feedback[agentID][caller] = append(l.feedback[agentID][caller], fb)

	l.emit(ctx, eventlog.TypeFeedbackGiven, agentID, caller, map[string]any{
		"agent_id":     agentID,
		"client":       caller.Hex(),
		"index":        index,
		"value":        value,
		"decimals":     decimals,
		"tag1":         tag1,
		"tag2":         tag2,
		"endpoint_ref": endpointRef,
		"doc_ref":      docRef,
		"content_hash": contentHash.Hex(),
	})
	return index, nil
}

// RevokeFeedback flags the caller's own (agentID, caller, index) entry as
// revoked. Revocation is one-way; a second revoke fails.
func (l *Ledger) RevokeFeedback(ctx context.Context, caller common.Address, agentID, index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.feedback[agentID][caller]
	if index < 1 || index > uint64(len(entries)) {
		return fmt.Errorf("%w: feedback (%d, %s, %d)", regerr.ErrNotFound, agentID, caller.Hex(), index)
	}
	fb := entries[index-1]
	if fb.Revoked {
		return fmt.Errorf("%w: feedback (%d, %s, %d) already revoked", regerr.ErrConflict, agentID, caller.Hex(), index)
	}
	fb.Revoked = true

	l.emit(ctx, eventlog.TypeFeedbackRevoked, agentID, caller, map[string]any{
		"agent_id": agentID,
		"client":   caller.Hex(),
		"index":    index,
	})
	return nil
}

// AppendResponse records a response to an existing feedback entry. Any
// caller may respond, any number of times; revoked entries still accept
// responses.
func (l *Ledger) AppendResponse(ctx context.Context, caller common.Address, agentID uint64, client common.Address, index uint64, responseRef string, responseHash common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.feedback[agentID][client]
	if index < 1 || index > uint64(len(entries)) {
		return fmt.Errorf("%w: feedback (%d, %s, %d)", regerr.ErrNotFound, agentID, client.Hex(), index)
	}
	key := respKey{agentID: agentID, client: client, index: index}
	r := l.responses[key]
	if r == nil {
		r = &responses{responders: make(map[common.Address]bool)}
		l.responses[key] = r
	}
	r.total++
	r.responders[caller] = true

	l.emit(ctx, eventlog.TypeFeedbackResponse, agentID, caller, map[string]any{
		"agent_id":      agentID,
		"client":        client.Hex(),
		"index":         index,
		"responder":     caller.Hex(),
		"response_ref":  responseRef,
		"response_hash": responseHash.Hex(),
	})
	return nil
}

// Summary aggregates the non-revoked entries of the named clients, applying
// exact-match tag filters when non-empty, and returns the count and the
// truncated integer average. The client filter is mandatory: forcing callers
// to name specific clients keeps an unbounded population of throwaway
// addresses from inflating the aggregate.
func (l *Ledger) Summary(agentID uint64, clientFilter []common.Address, tag1, tag2 string) (count uint64, average int64, err error) {
	if len(clientFilter) == 0 {
		return 0, 0, fmt.Errorf("%w: client filter must not be empty", regerr.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var sum int64
	for _, client := range clientFilter {
		for _, fb := range l.feedback[agentID][client] {
			if !matches(fb, tag1, tag2, false) {
				continue
			}
			sum += fb.Value
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	// Integer division truncates toward zero; downstream consumers depend on
	// this exact rounding behavior.
	return count, sum / int64(count), nil
}

// Read returns a single entry.
func (l *Ledger) Read(agentID uint64, client common.Address, index uint64) (*Feedback, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.feedback[agentID][client]
	if index < 1 || index > uint64(len(entries)) {
		return nil, fmt.Errorf("%w: feedback (%d, %s, %d)", regerr.ErrNotFound, agentID, client.Hex(), index)
	}
	cp := *entries[index-1]
	return &cp, nil
}

// ReadAll returns every matching entry as parallel slices. An empty client
// filter scans the agent's full client set. The result is built in two
// passes — count, then fill — so it is sized exactly to the match count.
func (l *Ledger) ReadAll(agentID uint64, clientFilter []common.Address, tag1, tag2 string, includeRevoked bool) (*Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	scan := clientFilter
	if len(scan) == 0 {
		scan = l.clients[agentID]
	}

	n := 0
	for _, client := range scan {
		for _, fb := range l.feedback[agentID][client] {
			if matches(fb, tag1, tag2, includeRevoked) {
				n++
			}
		}
	}

	page := &Page{
		Clients:     make([]common.Address, 0, n),
		Indexes:     make([]uint64, 0, n),
		Values:      make([]int64, 0, n),
		Decimals:    make([]uint8, 0, n),
		Tag1s:       make([]string, 0, n),
		Tag2s:       make([]string, 0, n),
		Revoked:     make([]bool, 0, n),
		ContentHash: make([]common.Hash, 0, n),
	}
	for _, client := range scan {
		for _, fb := range l.feedback[agentID][client] {
			if !matches(fb, tag1, tag2, includeRevoked) {
				continue
			}
			page.Clients = append(page.Clients, fb.Client)
			page.Indexes = append(page.Indexes, fb.Index)
			page.Values = append(page.Values, fb.Value)
			page.Decimals = append(page.Decimals, fb.Decimals)
			page.Tag1s = append(page.Tag1s, fb.Tag1)
			page.Tag2s = append(page.Tag2s, fb.Tag2)
			page.Revoked = append(page.Revoked, fb.Revoked)
			page.ContentHash = append(page.ContentHash, fb.ContentHash)
		}
	}
	return page, nil
}

// Clients returns the insertion-ordered set of addresses that have ever
// given feedback for the agent.
func (l *Ledger) Clients(agentID uint64) []common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]common.Address, len(l.clients[agentID]))
	copy(out, l.clients[agentID])
	return out
}

// LastIndex returns the highest feedback index for (agentID, client);
// 0 means no feedback yet.
func (l *Ledger) LastIndex(agentID uint64, client common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.feedback[agentID][client]))
}

// ResponseCount returns response statistics for one entry. With an empty
// responder filter it returns the running total (duplicates included); with
// a non-empty filter it counts how many of the named responders have
// responded at least once.
func (l *Ledger) ResponseCount(agentID uint64, client common.Address, index uint64, responderFilter []common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.feedback[agentID][client]
	if index < 1 || index > uint64(len(entries)) {
		return 0, fmt.Errorf("%w: feedback (%d, %s, %d)", regerr.ErrNotFound, agentID, client.Hex(), index)
	}

	r := l.responses[respKey{agentID: agentID, client: client, index: index}]
	if r == nil {
		return 0, nil
	}
	if len(responderFilter) == 0 {
		return r.total, nil
	}

	var count uint64
	seen := make(map[common.Address]bool, len(responderFilter))
	for _, responder := range responderFilter {
		if seen[responder] {
			continue
		}
		seen[responder] = true
		if r.responders[responder] {
			count++
		}
	}
	return count, nil
}

// matches applies the revocation and exact-match tag filters.
func matches(fb *Feedback, tag1, tag2 string, includeRevoked bool) bool {
	if fb.Revoked && !includeRevoked {
		return false
	}
	if tag1 != "" && fb.Tag1 != tag1 {
		return false
	}
	if tag2 != "" && fb.Tag2 != tag2 {
		return false
	}
	return true
}

func (l *Ledger) emit(ctx context.Context, typ string, agentID uint64, actor common.Address, payload map[string]any) {
	if l.events == nil {
		return
	}
	if _, err := l.events.Append(ctx, typ, agentID, actor.Hex(), payload); err != nil {
		l.logger.Warn("event append failed", zap.String("type", typ), zap.Error(err))
	}
}
