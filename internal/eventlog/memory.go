package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog is an in-memory, thread-safe Log implementation. It is the
// authoritative log for a single-process registry and the only implementation
// that supports in-process subscription.
type MemoryLog struct {
	mu      sync.RWMutex
	events  []*Event
	subs    map[int]chan Event
	nextSub int
}

// New creates a MemoryLog initialised with the canonical genesis event.
func New() *MemoryLog {
	l := &MemoryLog{subs: make(map[int]chan Event)}
	genesis := &Event{
		Index:     0,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      TypeGenesis,
		Actor:     "system",
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
	l.events = append(l.events, genesis)
	return l
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, typ string, agentID uint64, actor string, payload any) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	prev := l.events[len(l.events)-1]
	event := &Event{
		Index:     len(l.events),
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		AgentID:   agentID,
		Actor:     actor,
		Payload:   payloadJSON,
		PrevHash:  prev.Hash,
	}
	event.Hash = hashEvent(event)
	l.events = append(l.events, event)

	// Sends are non-blocking: a stalled subscriber drops events rather
	// than stalling the ledger.
	for _, ch := range l.subs {
		select {
		case ch <- *event:
		default:
		}
	}
	l.mu.Unlock()

	return event, nil
}

// Subscribe registers an in-process observer. Events appended after the call
// are delivered on the returned channel; cancel unregisters and closes it.
// Delivery is best-effort: a subscriber that falls more than buffer events
// behind misses the overflow.
func (l *MemoryLog) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, index int) (*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.events) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return l.events[index], nil
}

// List implements Log.
func (l *MemoryLog) List(_ context.Context, from, limit int) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 || from >= len(l.events) {
		return nil, nil
	}
	end := from + limit
	if limit <= 0 || end > len(l.events) {
		end = len(l.events)
	}
	out := make([]*Event, end-from)
	copy(out, l.events[from:end])
	return out, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events), nil
}

// Verify implements Log. It walks the chain and checks that all hashes are
// consistent; the genesis event is validated against GenesisHash.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.events {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis event has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		prev := l.events[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEvent(curr) {
			return fmt.Errorf("event %d has invalid hash", curr.Index)
		}
	}
	return nil
}

// Root implements Log.
func (l *MemoryLog) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return "", nil
	}
	return l.events[len(l.events)-1].Hash, nil
}
