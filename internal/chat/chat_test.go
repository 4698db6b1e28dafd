package chat

import (
	"context"
	"testing"

	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/store"
)

func newService() (*Service, *directory.Fake) {
	dir := directory.NewFake()
	return New(store.NewFake(), dir), dir
}

func TestBroadcastUserPersistsAndPublishes(t *testing.T) {
	s, dir := newService()
	ctx := context.Background()

	p, err := s.BroadcastUser(ctx, "alice", "hello")
	if err != nil {
		t.Fatalf("BroadcastUser() = %v, want nil", err)
	}
	if p.Sender != "alice" || p.Content != "hello" {
		t.Fatalf("packet = %+v, want sender=alice content=hello", p)
	}
	if len(dir.Published) != 1 || dir.Published[0].Chat.Content != "hello" {
		t.Fatalf("expected the packet to be published once")
	}

	history, err := s.History(ctx, p.Timestamp+1)
	if err != nil {
		t.Fatalf("History() = %v, want nil", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("expected history to contain the persisted message")
	}
}

func TestBroadcastSystemUsesServerSender(t *testing.T) {
	s, _ := newService()
	p, err := s.BroadcastSystem(context.Background(), "alice joined.")
	if err != nil {
		t.Fatalf("BroadcastSystem() = %v, want nil", err)
	}
	if p.Sender != "server" || !p.IsSystem() {
		t.Fatalf("packet = %+v, want sender=server", p)
	}
}

func TestHistoryReturnsAscendingOrder(t *testing.T) {
	s, _ := newService()
	ctx := context.Background()

	for i := 1; i <= 120; i++ {
		p, err := s.BroadcastUser(ctx, "bot", "msg")
		if err != nil {
			t.Fatalf("BroadcastUser(%d): %v", i, err)
		}
		_ = p
	}

	history, err := s.History(ctx, 1<<62)
	if err != nil {
		t.Fatalf("History() = %v, want nil", err)
	}
	if len(history) != 50 {
		t.Fatalf("len(history) = %d, want 50", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp < history[i-1].Timestamp {
			t.Fatalf("history not in ascending order at index %d", i)
		}
	}
}
