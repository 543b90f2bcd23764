package webhooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id uuid.UUID, owner common.Address) (bool, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
}

// PostgresStore keeps subscriptions in the webhook_subscriptions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions (id, owner_address, url, events, secret, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.Owner.Hex(), sub.URL, sub.Events, sub.Secret, sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID, owner common.Address) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_subscriptions WHERE id = $1 AND owner_address = $2`,
		id, owner.Hex())
	if err != nil {
		return false, fmt.Errorf("delete webhook subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner common.Address) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_address, url, events, secret, active, created_at
		FROM webhook_subscriptions
		WHERE owner_address = $1
		ORDER BY created_at`,
		owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("list webhook subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_address, url, events, secret, active, created_at
		FROM webhook_subscriptions
		WHERE active
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active webhook subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PostgresStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, status_code, attempt, success, error_message, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.SubscriptionID, d.EventType, d.StatusCode, d.Attempt, d.Success, d.ErrorMessage, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

type subscriptionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSubscriptions(rows subscriptionRows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		var (
			sub  Subscription
			addr string
		)
		if err := rows.Scan(&sub.ID, &addr, &sub.URL, &sub.Events, &sub.Secret, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook subscription: %w", err)
		}
		sub.Owner = common.HexToAddress(addr)
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// MemoryStore keeps subscriptions in memory. It backs deployments that run
// without Postgres and the package tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (s *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID, owner common.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.Owner != owner {
		return false, nil
	}
	delete(s.subs, id)
	return true, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner common.Address) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var subs []*Subscription
	for _, sub := range s.subs {
		if sub.Owner == owner {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var subs []*Subscription
	for _, sub := range s.subs {
		if sub.Active {
			cp := *sub
			subs = append(subs, &cp)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
	return subs, nil
}
