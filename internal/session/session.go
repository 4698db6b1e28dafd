// Package session implements the per-connection chat protocol state
// machine: Greeting, Live, and Closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/maxrios/mcs/internal/auth"
	"github.com/maxrios/mcs/internal/bus"
	"github.com/maxrios/mcs/internal/chat"
	"github.com/maxrios/mcs/internal/chaterr"
	"github.com/maxrios/mcs/internal/logging"
	"github.com/maxrios/mcs/internal/metrics"
	"github.com/maxrios/mcs/internal/protocol"
)

const (
	greetingTimeout = 10 * time.Second
	refreshInterval = 10 * time.Second
)

// Engine holds the services every session depends on: auth, chat, and
// the process-wide broadcast bus.
type Engine struct {
	Auth *auth.Service
	Chat *chat.Service
	Bus  *bus.Bus
}

// NewEngine builds an Engine over the given services.
func NewEngine(a *auth.Service, c *chat.Service, b *bus.Bus) *Engine {
	return &Engine{Auth: a, Chat: c, Bus: b}
}

// Serve runs one connection's full lifecycle: greet, then live until the
// connection closes, then clean up. It never returns an error — all
// failures are logged and result in the connection being closed.
func (e *Engine) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	reader := protocol.NewReader(conn)

	username, ok := e.greet(ctx, conn, reader, sessionID, remote)
	if !ok {
		return
	}

	metrics.ServerActiveSessions.Inc()
	defer metrics.ServerActiveSessions.Dec()

	e.live(ctx, conn, reader, sessionID, username)
	e.close(ctx, sessionID, username, remote)
}

// greet implements the Greeting state: read one frame with a bounded
// wait, require it to be a Join, and run register_and_login. Returns
// (username, true) on success, having already sent the join broadcast
// and initial history. Any other outcome returns ("", false) having
// already closed out the connection as appropriate.
func (e *Engine) greet(ctx context.Context, conn net.Conn, reader *protocol.Reader, sessionID, remote string) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(greetingTimeout))
	msg, err := reader.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})

	if err != nil {
		if errors.Is(err, io.EOF) {
			logging.L().Debug("session: peer closed before greeting (health probe)", "session_id", sessionID, "remote", remote)
			return "", false
		}
		logging.L().Debug("session: greeting read failed", "session_id", sessionID, "remote", remote, "err", err)
		return "", false
	}

	if msg.Type != protocol.TypeJoin {
		logging.L().Warn("session: protocol violation, first frame was not join", "session_id", sessionID, "remote", remote, "type", msg.Type)
		return "", false
	}

	if err := e.Auth.RegisterAndLogin(ctx, msg.Username, msg.Password); err != nil {
		kind := chaterr.ToWireKind(err)
		logging.L().Info("session: login failed", "session_id", sessionID, "remote", remote, "username", msg.Username, "kind", kind)
		metrics.ServerLoginFailures.WithLabelValues(wireKindLabel(kind)).Inc()
		_ = protocol.WriteMessage(conn, protocol.ErrorMessage(wireErrorKind(kind)))
		return "", false
	}

	username := msg.Username
	joined, err := e.Chat.BroadcastSystem(ctx, fmt.Sprintf("%s joined.", username))
	if err != nil {
		logging.L().Warn("session: join broadcast failed", "username", username, "err", err)
	}

	history, err := e.Chat.History(ctx, joined.Timestamp+1)
	if err != nil {
		logging.L().Warn("session: initial history lookup failed", "username", username, "err", err)
		history = nil
	}
	if err := protocol.WriteMessage(conn, protocol.HistoryResponseMessage(history)); err != nil {
		logging.L().Debug("session: failed to send initial history", "username", username, "err", err)
		return "", false
	}

	logging.L().Info("session: joined", "session_id", sessionID, "username", username, "remote", remote)
	return username, true
}

type inboundResult struct {
	msg protocol.Message
	err error
}

// live implements the Live state: multiplex inbound frames, bus
// deliveries, and the 10s refresh ticker, writing every outgoing
// message through the single connection writer.
func (e *Engine) live(ctx context.Context, conn net.Conn, reader *protocol.Reader, sessionID, username string) {
	sub := e.Bus.Subscribe()
	defer e.Bus.Unsubscribe(sub)

	stop := make(chan struct{})
	defer close(stop)

	inbound := make(chan inboundResult)
	go func() {
		for {
			msg, err := reader.ReadMessage()
			select {
			case inbound <- inboundResult{msg: msg, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-inbound:
			if res.err != nil {
				if !errors.Is(res.err, io.EOF) {
					logging.L().Debug("session: inbound read failed", "session_id", sessionID, "username", username, "err", res.err)
				}
				return
			}
			if !e.handleInbound(ctx, conn, username, res.msg) {
				return
			}

		case m := <-sub.C():
			if err := protocol.WriteMessage(conn, m); err != nil {
				logging.L().Debug("session: bus delivery write failed", "session_id", sessionID, "username", username, "err", err)
				return
			}

		case <-ticker.C:
			if err := e.Auth.Refresh(ctx, username); err != nil {
				logging.L().Debug("session: presence refresh failed", "session_id", sessionID, "username", username, "err", err)
				return
			}
		}
	}
}

// handleInbound processes one inbound frame during Live. It returns
// false if the session should transition to Closed.
func (e *Engine) handleInbound(ctx context.Context, conn net.Conn, username string, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeChat:
		content := ""
		if msg.Chat != nil {
			content = msg.Chat.Content
		}
		if _, err := e.Chat.BroadcastUser(ctx, username, content); err != nil {
			kind := chaterr.ToWireKind(err)
			_ = protocol.WriteMessage(conn, protocol.ErrorMessage(wireErrorKind(kind)))
		}

	case protocol.TypeHistoryRequest:
		history, err := e.Chat.History(ctx, msg.Before)
		if err != nil {
			kind := chaterr.ToWireKind(err)
			_ = protocol.WriteMessage(conn, protocol.ErrorMessage(wireErrorKind(kind)))
			break
		}
		_ = protocol.WriteMessage(conn, protocol.HistoryResponseMessage(history))

	case protocol.TypeHeartbeat:
		if err := e.Auth.Refresh(ctx, username); err != nil {
			logging.L().Debug("session: heartbeat refresh failed", "username", username, "err", err)
		}

	default:
		// Unrecognized variants are ignored, per spec.
	}
	return true
}

// close implements the Closed state: release presence and best-effort
// broadcast a departure notice.
func (e *Engine) close(ctx context.Context, sessionID, username, remote string) {
	if err := e.Auth.Logout(ctx, username); err != nil {
		logging.L().Warn("session: logout failed", "session_id", sessionID, "username", username, "err", err)
	}
	if _, err := e.Chat.BroadcastSystem(ctx, fmt.Sprintf("%s left.", username)); err != nil {
		logging.L().Warn("session: leave broadcast failed", "session_id", sessionID, "username", username, "err", err)
	}
	logging.L().Info("session: closed", "session_id", sessionID, "username", username, "remote", remote)
}

func wireErrorKind(k chaterr.WireKind) protocol.ErrorKind {
	switch k {
	case chaterr.WireUsernameTaken:
		return protocol.ErrorUsernameTaken
	case chaterr.WireUsernameTooShort:
		return protocol.ErrorUsernameTooShort
	case chaterr.WireNetwork:
		return protocol.ErrorNetwork
	default:
		return protocol.ErrorInternal
	}
}

func wireKindLabel(k chaterr.WireKind) string {
	switch k {
	case chaterr.WireUsernameTaken:
		return "username_taken"
	case chaterr.WireUsernameTooShort:
		return "username_too_short"
	case chaterr.WireNetwork:
		return "network"
	default:
		return "internal"
	}
}
