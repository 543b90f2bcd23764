// Package identity implements the authoritative agent registry: record
// creation (direct and signature-delegated), ownership and its transfer,
// delegate/operator capabilities, the rotatable payment wallet, generic
// metadata, and the owner enumeration index.
//
// The ledger is a single-writer state machine: one mutex serialises every
// mutating call, and each call validates fully before writing, so a failed
// call leaves no partial state behind.
package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/pkg/regerr"
	"github.com/arcadian-labs/agentledger/pkg/sigcheck"
)

// ReservedMetadataKey is the metadata key reserved for the payment wallet.
// Generic metadata writes using it are rejected; the wallet has its own
// proof-of-control-gated write path.
const ReservedMetadataKey = "agentWallet"

// Agent is the identity record of a single registered agent.
type Agent struct {
	// ID is unique, monotonically assigned starting at 1, and never reused.
	// 0 is the "not found" sentinel everywhere ids are looked up.
	ID uint64 `json:"id"`

	// Owner is the current controlling address; exactly one at any time.
	Owner common.Address `json:"owner"`

	// AgentAddress is set only at delegated registration (to the submitting
	// caller) and is immutable thereafter. Zero for direct registrations.
	AgentAddress common.Address `json:"agent_address"`

	// PaymentWallet is the rotatable payment destination. It defaults to the
	// owner at creation and is cleared whenever ownership changes hands.
	PaymentWallet common.Address `json:"payment_wallet"`

	// URI points to the agent's externally hosted passport document.
	// The ledger stores it verbatim and never fetches or parses it.
	URI string `json:"uri"`

	Metadata map[string][]byte `json:"metadata,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// MetadataEntry is a single key/value pair supplied at registration.
type MetadataEntry struct {
	Key   string
	Value []byte
}

// AgentPointer is the (id, passport pointer) pair consumed by the prober.
type AgentPointer struct {
	ID  uint64
	URI string
}

// SignatureVerifier checks deadline-bound structured-message authorizations.
// *sigcheck.Verifier satisfies this interface.
type SignatureVerifier interface {
	Verify(msg sigcheck.Message, signer common.Address, sig []byte) error
}

// Ledger is the identity ledger. All exported methods are safe for
// concurrent use; mutations are strictly serialised.
type Ledger struct {
	verifier SignatureVerifier
	events   eventlog.Log // nil = no notifications
	logger   *zap.Logger

	mu     sync.Mutex
	agents map[uint64]*Agent
	nextID uint64

	// Owner enumeration: per-owner ordered id list plus a parallel map from
	// id to its position in that list, so insertion and removal are O(1).
	ownerList map[common.Address][]uint64
	ownerPos  map[uint64]int

	// Per-agent delegate approval (cleared on transfer and destroy) and
	// owner-wide operator grants.
	approved  map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
}

// New creates an empty identity ledger. events may be nil to disable
// change notifications.
func New(verifier SignatureVerifier, events eventlog.Log, logger *zap.Logger) *Ledger {
	return &Ledger{
		verifier:  verifier,
		events:    events,
		logger:    logger,
		agents:    make(map[uint64]*Agent),
		nextID:    1,
		ownerList: make(map[common.Address][]uint64),
		ownerPos:  make(map[uint64]int),
		approved:  make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

// Register creates a new agent owned by the caller. The caller becomes both
// owner and default payment wallet. Metadata entries using the reserved key
// are rejected before any state is written.
func (l *Ledger) Register(ctx context.Context, caller common.Address, uri string, metadata []MetadataEntry) (uint64, error) {
	if caller == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero caller address", regerr.ErrInvalid)
	}
	for _, m := range metadata {
		if m.Key == ReservedMetadataKey {
			return 0, fmt.Errorf("%w: metadata key %q is reserved", regerr.ErrConflict, ReservedMetadataKey)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++

	a := &Agent{
		ID:            id,
		Owner:         caller,
		PaymentWallet: caller,
		URI:           uri,
		Metadata:      make(map[string][]byte, len(metadata)),
		RegisteredAt:  time.Now().UTC(),
	}
	for _, m := range metadata {
		a.Metadata[m.Key] = append([]byte(nil), m.Value...)
	}
	l.agents[id] = a
	l.addToOwner(caller, id)

	l.emit(ctx, eventlog.TypeAgentRegistered, id, caller, map[string]any{
		"id":            id,
		"uri":           uri,
		"owner":         caller.Hex(),
		"agent_address": "",
	})
	l.logger.Info("agent registered", zap.Uint64("id", id), zap.String("owner", caller.Hex()))
	return id, nil
}

// RegisterDelegated creates a new agent on behalf of owner, submitted by the
// agent's own address. The signature must bind (caller, uri, deadline) as
// authorized by owner; this is the only path that sets AgentAddress, and the
// field is immutable afterward.
func (l *Ledger) RegisterDelegated(ctx context.Context, caller common.Address, uri string, owner common.Address, deadline time.Time, sig []byte) (uint64, error) {
	if caller == (common.Address{}) || owner == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero address", regerr.ErrInvalid)
	}
	msg := sigcheck.DelegatedRegistration(caller, uri, deadline)
	if err := l.verifier.Verify(msg, owner, sig); err != nil {
		return 0, fmt.Errorf("delegated registration: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++

	a := &Agent{
		ID:            id,
		Owner:         owner,
		AgentAddress:  caller,
		PaymentWallet: owner,
		URI:           uri,
		Metadata:      make(map[string][]byte),
		RegisteredAt:  time.Now().UTC(),
	}
	l.agents[id] = a
	l.addToOwner(owner, id)

	l.emit(ctx, eventlog.TypeAgentRegistered, id, caller, map[string]any{
		"id":            id,
		"uri":           uri,
		"owner":         owner.Hex(),
		"agent_address": caller.Hex(),
	})
	l.logger.Info("agent registered (delegated)",
		zap.Uint64("id", id),
		zap.String("owner", owner.Hex()),
		zap.String("agent_address", caller.Hex()),
	)
	return id, nil
}

// Transfer moves ownership of id to newOwner. The caller must be the current
// owner, the approved delegate, or an operator of the owner. Transfers
// between two distinct owners clear the payment wallet and the per-agent
// approval; a self-transfer clears only the approval.
func (l *Ledger) Transfer(ctx context.Context, caller common.Address, id uint64, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return fmt.Errorf("%w: zero new owner", regerr.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		return fmt.Errorf("%w: %s cannot transfer agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}

	oldOwner := a.Owner
	delete(l.approved, id)

	clearedWallet := common.Address{}
	if newOwner != oldOwner {
		l.removeFromOwner(oldOwner, id)
		l.addToOwner(newOwner, id)
		a.Owner = newOwner

		// A payment destination must never silently survive a change of
		// control.
		if a.PaymentWallet != (common.Address{}) {
			clearedWallet = a.PaymentWallet
			a.PaymentWallet = common.Address{}
		}
	}

	if clearedWallet != (common.Address{}) {
		l.emit(ctx, eventlog.TypeWalletUnset, id, caller, map[string]any{
			"id":         id,
			"old_wallet": clearedWallet.Hex(),
		})
	}
	l.emit(ctx, eventlog.TypeAgentTransferred, id, caller, map[string]any{
		"id":        id,
		"old_owner": oldOwner.Hex(),
		"new_owner": newOwner.Hex(),
	})
	l.logger.Info("agent transferred",
		zap.Uint64("id", id),
		zap.String("old_owner", oldOwner.Hex()),
		zap.String("new_owner", newOwner.Hex()),
		zap.Bool("wallet_cleared", clearedWallet != (common.Address{})),
	)
	return nil
}

// SetURI replaces the agent's passport pointer and returns the previous
// value. Consumers need both old and new for cache invalidation; the emitted
// notification carries both.
func (l *Ledger) SetURI(ctx context.Context, caller common.Address, id uint64, newURI string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return "", fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		return "", fmt.Errorf("%w: %s cannot set uri of agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	oldURI := a.URI
	a.URI = newURI

	l.emit(ctx, eventlog.TypeAgentURIChanged, id, caller, map[string]any{
		"id":      id,
		"old_uri": oldURI,
		"new_uri": newURI,
	})
	return oldURI, nil
}

// SetMetadata writes one metadata key. The reserved wallet key is rejected;
// values are opaque bytes the ledger never interprets.
func (l *Ledger) SetMetadata(ctx context.Context, caller common.Address, id uint64, key string, value []byte) error {
	if key == ReservedMetadataKey {
		return fmt.Errorf("%w: metadata key %q is reserved", regerr.ErrConflict, ReservedMetadataKey)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		return fmt.Errorf("%w: %s cannot set metadata of agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	a.Metadata[key] = append([]byte(nil), value...)

	l.emit(ctx, eventlog.TypeAgentMetadata, id, caller, map[string]any{
		"id":    id,
		"key":   key,
		"value": value,
	})
	return nil
}

// GetMetadata reads one metadata key. Reads are unrestricted; an unset key
// returns nil.
func (l *Ledger) GetMetadata(id uint64, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	return append([]byte(nil), a.Metadata[key]...), nil
}

// SetWallet rotates the payment wallet. The caller must hold owner or
// delegate capability, and the proof must additionally show that newWallet
// itself authorized (id, newWallet, deadline) — a double authorization, so
// funds can never be routed to an address that did not consent.
func (l *Ledger) SetWallet(ctx context.Context, caller common.Address, id uint64, newWallet common.Address, deadline time.Time, proof []byte) error {
	if newWallet == (common.Address{}) {
		return fmt.Errorf("%w: zero wallet address", regerr.ErrInvalid)
	}

	l.mu.Lock()
	a, ok := l.agents[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s cannot set wallet of agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	l.mu.Unlock()

	// Proof-of-control check runs outside the ledger lock; it is pure.
	msg := sigcheck.WalletProof(id, newWallet, deadline)
	if err := l.verifier.Verify(msg, newWallet, proof); err != nil {
		return fmt.Errorf("wallet proof: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check under lock: the agent may have been destroyed or transferred
	// while the proof was being verified.
	a, ok = l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		return fmt.Errorf("%w: %s cannot set wallet of agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	oldWallet := a.PaymentWallet
	a.PaymentWallet = newWallet

	l.emit(ctx, eventlog.TypeWalletSet, id, caller, map[string]any{
		"id":         id,
		"old_wallet": oldWallet.Hex(),
		"new_wallet": newWallet.Hex(),
	})
	return nil
}

// UnsetWallet clears the payment wallet to zero.
func (l *Ledger) UnsetWallet(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if !l.authorizedLocked(a, caller) {
		return fmt.Errorf("%w: %s cannot unset wallet of agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	oldWallet := a.PaymentWallet
	a.PaymentWallet = common.Address{}

	l.emit(ctx, eventlog.TypeWalletUnset, id, caller, map[string]any{
		"id":         id,
		"old_wallet": oldWallet.Hex(),
	})
	return nil
}

// Wallet returns the current payment wallet; zero means unset.
func (l *Ledger) Wallet(id uint64) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	return a.PaymentWallet, nil
}

// Approve grants (or, with the zero address, clears) the per-agent delegate.
// Only the owner or one of the owner's operators may approve.
func (l *Ledger) Approve(ctx context.Context, caller common.Address, id uint64, delegate common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if caller != a.Owner && !l.operators[a.Owner][caller] {
		return fmt.Errorf("%w: %s cannot approve for agent %d", regerr.ErrUnauthorized, caller.Hex(), id)
	}
	if delegate == (common.Address{}) {
		delete(l.approved, id)
	} else {
		l.approved[id] = delegate
	}

	l.emit(ctx, eventlog.TypeAgentApproval, id, caller, map[string]any{
		"id":       id,
		"delegate": delegate.Hex(),
	})
	return nil
}

// SetOperator grants or revokes owner-equivalent capability over every agent
// the caller owns, now and in the future.
func (l *Ledger) SetOperator(ctx context.Context, caller, operator common.Address, granted bool) error {
	if operator == (common.Address{}) {
		return fmt.Errorf("%w: zero operator address", regerr.ErrInvalid)
	}
	if operator == caller {
		return fmt.Errorf("%w: caller cannot be its own operator", regerr.ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if granted {
		if l.operators[caller] == nil {
			l.operators[caller] = make(map[common.Address]bool)
		}
		l.operators[caller][operator] = true
	} else {
		delete(l.operators[caller], operator)
	}

	l.emit(ctx, eventlog.TypeOperatorSet, 0, caller, map[string]any{
		"owner":    caller.Hex(),
		"operator": operator.Hex(),
		"granted":  granted,
	})
	return nil
}

// Destroy permanently removes the agent. Only the current owner may destroy
// — delegate capability is deliberately insufficient here. The wallet is
// cleared, the id leaves the owner's enumeration, and every future lookup of
// the id fails: ids are never reused.
func (l *Ledger) Destroy(ctx context.Context, caller common.Address, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	if caller != a.Owner {
		return fmt.Errorf("%w: only the owner may destroy agent %d", regerr.ErrUnauthorized, id)
	}

	owner := a.Owner
	oldWallet := a.PaymentWallet
	a.PaymentWallet = common.Address{}
	l.removeFromOwner(owner, id)
	delete(l.approved, id)
	delete(l.agents, id)

	if oldWallet != (common.Address{}) {
		l.emit(ctx, eventlog.TypeWalletUnset, id, caller, map[string]any{
			"id":         id,
			"old_wallet": oldWallet.Hex(),
		})
	}
	l.emit(ctx, eventlog.TypeAgentDestroyed, id, caller, map[string]any{
		"id":    id,
		"owner": owner.Hex(),
	})
	l.logger.Info("agent destroyed", zap.Uint64("id", id), zap.String("owner", owner.Hex()))
	return nil
}

// Get returns a copy of the agent record.
func (l *Ledger) Get(id uint64) (*Agent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	cp := *a
	cp.Metadata = make(map[string][]byte, len(a.Metadata))
	for k, v := range a.Metadata {
		cp.Metadata[k] = append([]byte(nil), v...)
	}
	return &cp, nil
}

// OwnerOf returns the current owner of id. Destroyed and never-registered
// ids are indistinguishable: both fail with not-found.
func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	return a.Owner, nil
}

// IsAuthorized reports whether addr holds owner or delegate capability over
// id: the owner itself, the approved per-agent delegate, or an operator of
// the owner.
func (l *Ledger) IsAuthorized(id uint64, addr common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.agents[id]
	if !ok {
		return false, fmt.Errorf("%w: agent %d", regerr.ErrNotFound, id)
	}
	return l.authorizedLocked(a, addr), nil
}

// AgentsOf returns the ids currently owned by owner. The relative order is a
// documented artifact of swap-and-pop removal, not insertion order.
func (l *Ledger) AgentsOf(owner common.Address) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.ownerList[owner]
	out := make([]uint64, len(list))
	copy(out, list)
	return out
}

// Total returns the number of live agents.
func (l *Ledger) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.agents))
}

// Pointers returns (id, uri) for every live agent, ordered by id. It backs
// the passport prober; metadata is deliberately not copied.
func (l *Ledger) Pointers() []AgentPointer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AgentPointer, 0, len(l.agents))
	for id, a := range l.agents {
		out = append(out, AgentPointer{ID: id, URI: a.URI})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Exists reports whether id refers to a live agent.
func (l *Ledger) Exists(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.agents[id]
	return ok
}

// authorizedLocked checks owner/delegate/operator capability. Callers must
// hold l.mu.
func (l *Ledger) authorizedLocked(a *Agent, addr common.Address) bool {
	if addr == a.Owner {
		return true
	}
	if l.approved[a.ID] == addr {
		return true
	}
	return l.operators[a.Owner][addr]
}

// addToOwner appends id to owner's enumeration and records its position.
// Callers must hold l.mu.
func (l *Ledger) addToOwner(owner common.Address, id uint64) {
	l.ownerPos[id] = len(l.ownerList[owner])
	l.ownerList[owner] = append(l.ownerList[owner], id)
}

// removeFromOwner removes id from owner's enumeration via swap-with-last:
// the list's last element moves into the vacated slot, its recorded position
// is updated, and the list shrinks by one. O(1), at the cost of not
// preserving relative order.
func (l *Ledger) removeFromOwner(owner common.Address, id uint64) {
	list := l.ownerList[owner]
	pos := l.ownerPos[id]
	last := len(list) - 1

	moved := list[last]
	list[pos] = moved
	l.ownerPos[moved] = pos

	list = list[:last]
	if len(list) == 0 {
		delete(l.ownerList, owner)
	} else {
		l.ownerList[owner] = list
	}
	delete(l.ownerPos, id)
}

// emit appends a change notification. Notifications are the observer
// channel, not the source of truth; a failed append is logged and does not
// undo the mutation that produced it. Callers hold l.mu, so log order always
// equals commit order; the authoritative MemoryLog append never blocks.
func (l *Ledger) emit(ctx context.Context, typ string, id uint64, actor common.Address, payload map[string]any) {
	if l.events == nil {
		return
	}
	if _, err := l.events.Append(ctx, typ, id, actor.Hex(), payload); err != nil {
		l.logger.Warn("event append failed", zap.String("type", typ), zap.Error(err))
	}
}
