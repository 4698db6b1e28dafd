package store

import (
	"context"
	"testing"

	"github.com/maxrios/mcs/internal/protocol"
)

func TestFakeCreateUserAndVerify(t *testing.T) {
	s := NewFake()
	ctx := context.Background()

	if matched, err := s.Verify(ctx, "alice", "pw"); err != nil || matched {
		t.Fatalf("Verify before create: matched=%v err=%v", matched, err)
	}

	if err := s.CreateUser(ctx, "alice", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if matched, err := s.Verify(ctx, "alice", "pw"); err != nil || !matched {
		t.Fatalf("Verify correct password: matched=%v err=%v", matched, err)
	}
	if matched, err := s.Verify(ctx, "alice", "wrong"); err != nil || matched {
		t.Fatalf("Verify wrong password: matched=%v err=%v", matched, err)
	}
}

func TestFakeCreateUserDoesNothingOnConflict(t *testing.T) {
	s := NewFake()
	ctx := context.Background()

	if err := s.CreateUser(ctx, "alice", "first"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, "alice", "second"); err != nil {
		t.Fatalf("CreateUser conflict: %v", err)
	}

	if matched, _ := s.Verify(ctx, "alice", "first"); !matched {
		t.Fatalf("original password should still verify")
	}
}

func TestFakeHistoryWindow(t *testing.T) {
	s := NewFake()
	ctx := context.Background()

	for ts := int64(1); ts <= 120; ts++ {
		if err := s.SaveMessage(ctx, protocol.ChatPacket{Sender: "u", Content: "m", Timestamp: ts}); err != nil {
			t.Fatalf("SaveMessage(%d): %v", ts, err)
		}
	}

	got, err := s.RecentBefore(ctx, 100, 50)
	if err != nil {
		t.Fatalf("RecentBefore: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("len(got) = %d, want 50", len(got))
	}
	// The 50 newest messages with timestamp < 100, out of 1..99, are
	// 50..99, returned ascending by timestamp.
	for i, p := range got {
		wantTS := int64(50 + i)
		if p.Timestamp != wantTS {
			t.Fatalf("got[%d].Timestamp = %d, want %d", i, p.Timestamp, wantTS)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("history not ascending at index %d", i)
		}
	}
}

func TestFakeHistoryWindowRespectsLimit(t *testing.T) {
	s := NewFake()
	ctx := context.Background()

	for ts := int64(1); ts <= 10; ts++ {
		_ = s.SaveMessage(ctx, protocol.ChatPacket{Sender: "u", Content: "m", Timestamp: ts})
	}

	got, err := s.RecentBefore(ctx, 1_000_000_000_000, 0)
	if err != nil {
		t.Fatalf("RecentBefore: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len(got) = %d, want 10", len(got))
	}
}

func TestFakeHistoryProbeOnEmptyStore(t *testing.T) {
	s := NewFake()
	got, err := s.RecentBefore(context.Background(), 1_000_000_000_000, 50)
	if err != nil {
		t.Fatalf("RecentBefore: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0", len(got))
	}
}
