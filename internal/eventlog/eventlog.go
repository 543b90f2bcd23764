// Package eventlog implements the registry's append-only change-notification
// log. Every successful mutation on the identity, reputation, or name ledgers
// appends one structured event carrying the operation's key fields (old and
// new values where applicable), so external indexers can reconstruct current
// state without re-scanning the ledgers.
//
// The log is hash-chained: each event records the SHA-256 of its predecessor,
// starting from a well-known genesis constant, so any tampering is detectable
// via Verify. Two implementations of the Log interface are provided:
//   - MemoryLog: in-process and authoritative; supports Subscribe.
//   - PostgresLog: durable mirror for external indexers.
package eventlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisHash anchors the chain; the genesis event's hash equals this
// constant rather than a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event types appended by the ledgers.
const (
	TypeGenesis          = "genesis"
	TypeAgentRegistered  = "agent.registered"
	TypeAgentTransferred = "agent.transferred"
	TypeAgentURIChanged  = "agent.uri_changed"
	TypeAgentMetadata    = "agent.metadata_changed"
	TypeWalletSet        = "agent.wallet_set"
	TypeWalletUnset      = "agent.wallet_unset"
	TypeAgentApproval    = "agent.approval"
	TypeOperatorSet      = "agent.operator_set"
	TypeAgentDestroyed   = "agent.destroyed"
	TypeFeedbackGiven    = "feedback.given"
	TypeFeedbackRevoked  = "feedback.revoked"
	TypeFeedbackResponse = "feedback.response"
	TypeNameRegistered   = "name.registered"
	TypeNameReleased     = "name.released"
)

// Event is a single notification record.
type Event struct {
	Index     int       `json:"index"`
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	AgentID   uint64    `json:"agent_id"`
	Actor     string    `json:"actor"`   // hex address of the caller, or "system"
	Payload   []byte    `json:"payload"` // JSON document of the operation's key fields
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Log is the interface for the append-only notification log.
type Log interface {
	// Append adds a new event chained to the previous one. payload is
	// JSON-marshalled and stored verbatim.
	Append(ctx context.Context, typ string, agentID uint64, actor string, payload any) (*Event, error)

	// Get returns the event at the given zero-based index.
	Get(ctx context.Context, index int) (*Event, error)

	// List returns up to limit events starting at from, in chain order.
	List(ctx context.Context, from, limit int) ([]*Event, error)

	// Len returns the total number of events, genesis included.
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent event (the chain tip).
	Root(ctx context.Context) (string, error)
}

// hashEvent computes a deterministic SHA-256 hash over an event's fields.
// Never called on the genesis event (index 0).
func hashEvent(e *Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano), e.ID,
		e.Type, e.AgentID, e.Actor, sha256Sum(e.Payload), e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
