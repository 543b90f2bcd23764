// Package webhooks delivers event log notifications to subscriber endpoints.
// Every delivery is signed with the subscription's HMAC secret so receivers
// can authenticate the registry.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body,
// prefixed with "sha256=".
const SignatureHeader = "X-AgentLedger-Signature"

// retryDelays[n] is the pause before attempt n+1: one immediate attempt
// plus three retries.
var retryDelays = []time.Duration{0, time.Second, 5 * time.Second, 25 * time.Second}

// Service manages subscriptions and fans event log entries out to them.
type Service struct {
	store  Store
	client *http.Client
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Subscribe registers a new endpoint for the owner and returns the
// subscription with its freshly generated secret. The secret is shown
// exactly once; it is not included in later listings.
func (s *Service) Subscribe(ctx context.Context, owner common.Address, url string, events []string) (*Subscription, string, error) {
	if len(events) == 0 {
		return nil, "", fmt.Errorf("at least one event type required")
	}
	for _, ev := range events {
		if !knownEventType(ev) {
			return nil, "", fmt.Errorf("unknown event type %q", ev)
		}
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}
	sub := &Subscription{
		ID:        uuid.New(),
		Owner:     owner,
		URL:       url,
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, "", err
	}
	s.logger.Info("webhook subscribed",
		zap.String("id", sub.ID.String()),
		zap.String("owner", owner.Hex()),
		zap.Strings("events", events))
	return sub, secret, nil
}

// Unsubscribe removes the subscription if it belongs to owner.
func (s *Service) Unsubscribe(ctx context.Context, id uuid.UUID, owner common.Address) (bool, error) {
	return s.store.Delete(ctx, id, owner)
}

// List returns the owner's subscriptions.
func (s *Service) List(ctx context.Context, owner common.Address) ([]*Subscription, error) {
	return s.store.ListByOwner(ctx, owner)
}

// Run consumes entries until the channel closes or ctx is cancelled.
// Deliveries run concurrently per subscription and never block the pump.
func (s *Service) Run(ctx context.Context, events <-chan eventlog.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.Dispatch(ctx, ev)
		}
	}
}

// Dispatch delivers one event to every matching active subscription.
func (s *Service) Dispatch(ctx context.Context, ev eventlog.Event) {
	subs, err := s.store.ListActive(ctx)
	if err != nil {
		s.logger.Error("webhook dispatch: list subscriptions", zap.Error(err))
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("webhook dispatch: marshal event", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if !matches(sub.Events, ev.Type) {
			continue
		}
		go s.deliver(ctx, sub, ev.Type, body)
	}
}

func (s *Service) deliver(ctx context.Context, sub *Subscription, eventType string, body []byte) {
	for attempt := 1; attempt <= len(retryDelays); attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelays[attempt-1]):
		}

		status, err := s.post(ctx, sub, body)
		d := &Delivery{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			StatusCode:     status,
			Attempt:        attempt,
			Success:        err == nil,
			DeliveredAt:    time.Now().UTC(),
		}
		if err != nil {
			d.ErrorMessage = err.Error()
		}
		if rec, ok := s.store.(interface {
			RecordDelivery(context.Context, *Delivery) error
		}); ok {
			if rerr := rec.RecordDelivery(ctx, d); rerr != nil {
				s.logger.Warn("webhook delivery not recorded", zap.Error(rerr))
			}
		}
		if err == nil {
			return
		}
		s.logger.Warn("webhook delivery failed",
			zap.String("subscription", sub.ID.String()),
			zap.String("url", sub.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
}

func (s *Service) post(ctx context.Context, sub *Subscription, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(sub.Secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the delivery signature for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matches(subscribed []string, eventType string) bool {
	for _, ev := range subscribed {
		if ev == EventWildcard || ev == eventType {
			return true
		}
	}
	return false
}

func knownEventType(ev string) bool {
	switch ev {
	case EventWildcard,
		eventlog.TypeAgentRegistered,
		eventlog.TypeAgentTransferred,
		eventlog.TypeAgentURIChanged,
		eventlog.TypeAgentMetadata,
		eventlog.TypeWalletSet,
		eventlog.TypeWalletUnset,
		eventlog.TypeAgentApproval,
		eventlog.TypeOperatorSet,
		eventlog.TypeAgentDestroyed,
		eventlog.TypeFeedbackGiven,
		eventlog.TypeFeedbackRevoked,
		eventlog.TypeFeedbackResponse,
		eventlog.TypeNameRegistered,
		eventlog.TypeNameReleased:
		return true
	}
	return false
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
