package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/maxrios/mcs/internal/auth"
	"github.com/maxrios/mcs/internal/bus"
	"github.com/maxrios/mcs/internal/chat"
	"github.com/maxrios/mcs/internal/directory"
	"github.com/maxrios/mcs/internal/protocol"
	"github.com/maxrios/mcs/internal/store"
)

// newEngine wires an Engine the way cmd/mcs-server does: a background
// task bridges the directory's pub/sub channel into the local bus, so a
// message one session broadcasts reaches every other (and its own)
// subscriber, exactly as the real directory subscription does.
func newEngine() (*Engine, *directory.Fake) {
	dir := directory.NewFake()
	st := store.NewFake()
	b := bus.New()
	go dir.Subscribe(context.Background(), b.Publish)
	for !dir.HasSubscriber() {
		time.Sleep(time.Millisecond)
	}
	return NewEngine(auth.New(st, dir), chat.New(st, dir), b), dir
}

func mustRead(t *testing.T, conn net.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.NewReader(conn).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() = %v, want nil", err)
	}
	return msg
}

func TestGreetHappyPathSendsJoinAndHistory(t *testing.T) {
	e, _ := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	if err := protocol.WriteMessage(client, protocol.JoinMessage("alice", "hunter2")); err != nil {
		t.Fatalf("write join: %v", err)
	}

	msg := mustRead(t, client)
	if msg.Type != protocol.TypeHistoryResponse {
		t.Fatalf("Type = %q, want history_response", msg.Type)
	}
	if len(msg.History) != 1 || msg.History[0].Content != "alice joined." {
		t.Fatalf("History = %+v, want one join notice", msg.History)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after client closed")
	}
}

func TestGreetRejectsNonJoinFirstFrame(t *testing.T) {
	e, _ := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	protocol.WriteMessage(client, protocol.HeartbeatMessage())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve should close the connection on a non-join first frame")
	}
}

func TestGreetHealthProbeClosesQuietly(t *testing.T) {
	e, _ := newEngine()
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve should close quietly on an immediate EOF")
	}
}

func TestGreetSendsErrorOnUsernameTooShort(t *testing.T) {
	e, _ := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	protocol.WriteMessage(client, protocol.JoinMessage("ab", "hunter2"))

	msg := mustRead(t, client)
	if msg.Type != protocol.TypeError || msg.ErrorKind != protocol.ErrorUsernameTooShort {
		t.Fatalf("msg = %+v, want error/username_too_short", msg)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not close after rejecting the join")
	}
}

func TestLiveChatBroadcastsAndHistoryRequest(t *testing.T) {
	e, _ := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	protocol.WriteMessage(client, protocol.JoinMessage("alice", "hunter2"))
	mustRead(t, client) // initial history response

	if err := protocol.WriteMessage(client, protocol.ChatMessage(protocol.NewUserPacket("", "hello room"))); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	msg := mustRead(t, client)
	if msg.Type != protocol.TypeChat || msg.Chat.Content != "hello room" || msg.Chat.Sender != "alice" {
		t.Fatalf("msg = %+v, want own chat echoed back via the bus", msg)
	}

	protocol.WriteMessage(client, protocol.HistoryRequestMessage(msg.Chat.Timestamp+1))
	resp := mustRead(t, client)
	if resp.Type != protocol.TypeHistoryResponse || len(resp.History) != 2 {
		t.Fatalf("resp = %+v, want 2 history entries (join notice + chat)", resp)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after client closed")
	}
}

func TestLiveHeartbeatRefreshesPresence(t *testing.T) {
	e, dir := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	protocol.WriteMessage(client, protocol.JoinMessage("alice", "hunter2"))
	mustRead(t, client)

	dir.ExpirePresence("alice")
	if dir.HasPresence("alice") {
		t.Fatalf("expected presence to be expired before heartbeat")
	}

	protocol.WriteMessage(client, protocol.HeartbeatMessage())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dir.HasPresence("alice") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !dir.HasPresence("alice") {
		t.Fatalf("expected heartbeat to refresh presence")
	}

	client.Close()
	<-done
}

func TestCloseReleasesPresenceAndBroadcastsLeave(t *testing.T) {
	e, dir := newEngine()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		e.Serve(context.Background(), server)
		close(done)
	}()

	protocol.WriteMessage(client, protocol.JoinMessage("alice", "hunter2"))
	mustRead(t, client)

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}

	if dir.HasPresence("alice") {
		t.Fatalf("expected presence released on close")
	}
	found := false
	for _, m := range dir.Published {
		if m.Chat != nil && m.Chat.Content == "alice left." {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a departure notice to be broadcast")
	}
}
