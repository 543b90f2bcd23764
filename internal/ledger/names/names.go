// Package names implements the bijective name↔agent mapping. Every
// transition is gated by the referenced agent's owner at call time — not the
// owner at assignment time — via a synchronous query against the identity
// ledger.
//
// Known gap, preserved deliberately: the resolver does not require a name to
// be released before its agent is destroyed. A stale name can keep pointing
// at a destroyed agent; resolving the owner of such a name fails not-found,
// and nobody can release it. Callers are expected to release names before
// destroying agents.
package names

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
	"github.com/arcadian-labs/agentledger/pkg/regerr"
)

// MaxNameLen bounds names to 64 bytes. Names are arbitrary bytes, not
// required to be valid UTF-8.
const MaxNameLen = 64

// OwnerReader is the slice of the identity ledger the resolver needs.
// *identity.Ledger satisfies this interface.
type OwnerReader interface {
	OwnerOf(id uint64) (common.Address, error)
}

// Resolver maintains the name bijection.
type Resolver struct {
	identity OwnerReader
	events   eventlog.Log
	logger   *zap.Logger

	mu      sync.Mutex
	byName  map[string]uint64
	byAgent map[uint64]string
}

// New creates an empty resolver bound to an identity ledger.
func New(identity OwnerReader, events eventlog.Log, logger *zap.Logger) *Resolver {
	return &Resolver{
		identity: identity,
		events:   events,
		logger:   logger,
		byName:   make(map[string]uint64),
		byAgent:  make(map[uint64]string),
	}
}

// RegisterName binds name to agentID. The caller must be the agent's current
// owner; the name must be unassigned and the agent must not already hold a
// name — at most one name per agent, one agent per name.
func (r *Resolver) RegisterName(ctx context.Context, caller common.Address, name string, agentID uint64) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("%w: name must be 1-%d bytes, got %d", regerr.ErrInvalid, MaxNameLen, len(name))
	}

	owner, err := r.identity.OwnerOf(agentID)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the owner of agent %d", regerr.ErrUnauthorized, caller.Hex(), agentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, taken := r.byName[name]; taken {
		return fmt.Errorf("%w: name %q already resolves to agent %d", regerr.ErrConflict, name, holder)
	}
	if existing, has := r.byAgent[agentID]; has {
		return fmt.Errorf("%w: agent %d already holds name %q", regerr.ErrConflict, agentID, existing)
	}
	r.byName[name] = agentID
	r.byAgent[agentID] = name

	r.emit(ctx, eventlog.TypeNameRegistered, agentID, caller, map[string]any{
		"name":     name,
		"agent_id": agentID,
	})
	r.logger.Info("name registered", zap.String("name", name), zap.Uint64("agent_id", agentID))
	return nil
}

// ReleaseName unbinds name. The caller must be the current owner of the
// agent the name resolves to, re-checked at call time regardless of who
// registered it.
func (r *Resolver) ReleaseName(ctx context.Context, caller common.Address, name string) error {
	r.mu.Lock()
	agentID, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: name %q", regerr.ErrNotFound, name)
	}

	owner, err := r.identity.OwnerOf(agentID)
	if err != nil {
		return err
	}
	if caller != owner {
		return fmt.Errorf("%w: %s is not the owner of agent %d", regerr.ErrUnauthorized, caller.Hex(), agentID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under lock; the binding may have been released concurrently.
	if current, ok := r.byName[name]; !ok || current != agentID {
		return fmt.Errorf("%w: name %q", regerr.ErrNotFound, name)
	}
	delete(r.byName, name)
	delete(r.byAgent, agentID)

	r.emit(ctx, eventlog.TypeNameReleased, agentID, caller, map[string]any{
		"name":     name,
		"agent_id": agentID,
	})
	r.logger.Info("name released", zap.String("name", name), zap.Uint64("agent_id", agentID))
	return nil
}

// Resolve returns the agent id a name resolves to; 0 means unknown.
func (r *Resolver) Resolve(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// ReverseResolve returns the name held by agentID; empty means none.
func (r *Resolver) ReverseResolve(agentID uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAgent[agentID]
}

// ResolveOwner returns the current owner of the agent a name resolves to.
// Fails not-found for unknown names and for names whose agent has been
// destroyed (the documented stale-name gap).
func (r *Resolver) ResolveOwner(name string) (common.Address, error) {
	r.mu.Lock()
	agentID, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return common.Address{}, fmt.Errorf("%w: name %q", regerr.ErrNotFound, name)
	}
	return r.identity.OwnerOf(agentID)
}

// Available reports whether name is currently unassigned.
func (r *Resolver) Available(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.byName[name]
	return !taken
}

func (r *Resolver) emit(ctx context.Context, typ string, agentID uint64, actor common.Address, payload map[string]any) {
	if r.events == nil {
		return
	}
	if _, err := r.events.Append(ctx, typ, agentID, actor.Hex(), payload); err != nil {
		r.logger.Warn("event append failed", zap.String("type", typ), zap.Error(err))
	}
}
