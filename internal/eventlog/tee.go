package eventlog

import (
	"context"

	"go.uber.org/zap"
)

// TeeLog appends to a primary log and mirrors each event to a secondary log.
// The primary (normally a MemoryLog) is authoritative: a mirror failure is
// logged and swallowed, never surfaced to the ledger operation that emitted
// the event. Reads are served from the primary.
type TeeLog struct {
	primary Log
	mirror  Log
	logger  *zap.Logger
}

// Tee wraps primary with a best-effort mirror.
func Tee(primary, mirror Log, logger *zap.Logger) *TeeLog {
	return &TeeLog{primary: primary, mirror: mirror, logger: logger}
}

// Append implements Log.
func (t *TeeLog) Append(ctx context.Context, typ string, agentID uint64, actor string, payload any) (*Event, error) {
	event, err := t.primary.Append(ctx, typ, agentID, actor, payload)
	if err != nil {
		return nil, err
	}
	if _, err := t.mirror.Append(ctx, typ, agentID, actor, payload); err != nil {
		t.logger.Warn("event mirror append failed",
			zap.String("type", typ),
			zap.Uint64("agent_id", agentID),
			zap.Error(err),
		)
	}
	return event, nil
}

// Get implements Log.
func (t *TeeLog) Get(ctx context.Context, index int) (*Event, error) {
	return t.primary.Get(ctx, index)
}

// List implements Log.
func (t *TeeLog) List(ctx context.Context, from, limit int) ([]*Event, error) {
	return t.primary.List(ctx, from, limit)
}

// Len implements Log.
func (t *TeeLog) Len(ctx context.Context) (int, error) {
	return t.primary.Len(ctx)
}

// Verify implements Log.
func (t *TeeLog) Verify(ctx context.Context) error {
	return t.primary.Verify(ctx)
}

// Root implements Log.
func (t *TeeLog) Root(ctx context.Context) (string, error) {
	return t.primary.Root(ctx)
}
