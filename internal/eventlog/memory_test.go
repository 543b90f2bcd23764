package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/arcadian-labs/agentledger/internal/eventlog"
)

var ctx = context.Background()

func TestNew_genesisEvent(t *testing.T) {
	l := eventlog.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis event, got %d", n)
	}

	event, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if event.Type != eventlog.TypeGenesis {
		t.Errorf("expected type %q, got %q", eventlog.TypeGenesis, event.Type)
	}
	if event.Hash != eventlog.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", event.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := eventlog.New()

	e1, err := l.Append(ctx, eventlog.TypeAgentRegistered, 1, "0xaa", map[string]any{"uri": "u"})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, eventlog.TypeAgentDestroyed, 1, "0xaa", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e1.ID == e2.ID {
		t.Error("event ids must be unique")
	}

	n, _ := l.Len(ctx)
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 events, got %d", n)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("verify: %v", err)
	}

	root, _ := l.Root(ctx)
	if root != e2.Hash {
		t.Errorf("root: got %q, want tip hash %q", root, e2.Hash)
	}
}

func TestList_ranges(t *testing.T) {
	l := eventlog.New()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, eventlog.TypeFeedbackGiven, uint64(i), "0xaa", nil); err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.List(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Index != 2 || events[1].Index != 3 {
		t.Errorf("list(2,2): got %d events, first index %d", len(events), events[0].Index)
	}

	// limit <= 0 means "to the end".
	events, _ = l.List(ctx, 4, 0)
	if len(events) != 2 {
		t.Errorf("list(4,0): got %d events, want 2", len(events))
	}

	// Out-of-range start yields nothing.
	events, _ = l.List(ctx, 100, 10)
	if len(events) != 0 {
		t.Errorf("list(100,10): got %d events, want 0", len(events))
	}
}

func TestSubscribe_deliversAppends(t *testing.T) {
	l := eventlog.New()
	ch, cancel := l.Subscribe(8)
	defer cancel()

	if _, err := l.Append(ctx, eventlog.TypeNameRegistered, 7, "0xaa", map[string]any{"name": "vpn"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if ev.Type != eventlog.TypeNameRegistered || ev.AgentID != 7 {
			t.Errorf("unexpected event %q for agent %d", ev.Type, ev.AgentID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}
