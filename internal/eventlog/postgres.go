package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all registry instances sharing a database.
const advisoryLockKey = int64(7_420_118_004)

// PostgresLog persists the notification chain to a PostgreSQL database so
// external indexers can read it without holding a connection to the registry
// process. It implements the Log interface.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by the given connection pool.
// The event_log table must already contain the genesis row (see cmd/migrate).
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log. It acquires a PostgreSQL advisory lock, reads the
// chain tail, computes the new event hash, and inserts it, all within a
// single transaction.
func (l *PostgresLog) Append(ctx context.Context, typ string, agentID uint64, actor string, payload any) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM event_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	event := &Event{
		Index:     prevIdx + 1,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		AgentID:   agentID,
		Actor:     actor,
		Payload:   payloadJSON,
		PrevHash:  prevHash,
	}
	event.Hash = hashEvent(event)

	if _, err := tx.Exec(ctx,
		`INSERT INTO event_log (idx, event_id, timestamp, event_type, agent_id, actor, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.Index, event.ID, event.Timestamp, event.Type,
		int64(event.AgentID), event.Actor, event.Payload,
		event.PrevHash, event.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event tx: %w", err)
	}

	l.logger.Debug("event appended",
		zap.Int("idx", event.Index),
		zap.String("type", event.Type),
		zap.Uint64("agent_id", event.AgentID),
	)
	return event, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int) (*Event, error) {
	event := &Event{}
	var agentID int64
	if err := l.pool.QueryRow(ctx,
		`SELECT idx, event_id, timestamp, event_type, agent_id, actor, payload, prev_hash, hash
		 FROM event_log WHERE idx = $1`, index,
	).Scan(
		&event.Index, &event.ID, &event.Timestamp, &event.Type,
		&agentID, &event.Actor, &event.Payload,
		&event.PrevHash, &event.Hash,
	); err != nil {
		return nil, fmt.Errorf("get event %d: %w", index, err)
	}
	event.AgentID = uint64(agentID)
	return event, nil
}

// List implements Log.
func (l *PostgresLog) List(ctx context.Context, from, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT idx, event_id, timestamp, event_type, agent_id, actor, payload, prev_hash, hash
		 FROM event_log WHERE idx >= $1 ORDER BY idx ASC LIMIT $2`, from, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var agentID int64
		if err := rows.Scan(
			&event.Index, &event.ID, &event.Timestamp, &event.Type,
			&agentID, &event.Actor, &event.Payload,
			&event.PrevHash, &event.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		event.AgentID = uint64(agentID)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM event_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Verify implements Log. It streams all rows ordered by idx and validates
// the hash chain. O(n) in chain length.
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, event_id, timestamp, event_type, agent_id, actor, payload, prev_hash, hash
		 FROM event_log ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	var prev *Event
	for rows.Next() {
		curr := &Event{}
		var agentID int64
		if err := rows.Scan(
			&curr.Index, &curr.ID, &curr.Timestamp, &curr.Type,
			&agentID, &curr.Actor, &curr.Payload,
			&curr.PrevHash, &curr.Hash,
		); err != nil {
			return fmt.Errorf("scan event row: %w", err)
		}
		curr.AgentID = uint64(agentID)

		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis event has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEvent(curr) {
			return fmt.Errorf("event %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Log.
func (l *PostgresLog) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM event_log ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get chain root: %w", err)
	}
	return hash, nil
}
