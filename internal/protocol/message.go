// Package protocol implements mcs's wire protocol: a length-delimited
// framing layer (Encode/Decode) wrapping a tagged-union Message type.
//
// Framing is 4 bytes big-endian length L followed by L bytes of payload.
// The payload is a JSON object carrying a "type" discriminator, the same
// self-describing shape the rest of this codebase uses for its control
// messages — only the outer length prefix is new, since here the
// transport is a raw TCP/TLS stream rather than something that frames
// messages for us.
package protocol

import "time"

// ChatPacket is one chat message, user-authored or system-generated.
type ChatPacket struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewUserPacket builds a ChatPacket attributed to sender, stamped with now.
func NewUserPacket(sender, content string) ChatPacket {
	return ChatPacket{Sender: sender, Content: content, Timestamp: time.Now().Unix()}
}

// NewServerPacket builds a system ChatPacket (sender == "server").
func NewServerPacket(content string) ChatPacket {
	return ChatPacket{Sender: "server", Content: content, Timestamp: time.Now().Unix()}
}

// IsSystem reports whether this packet was server-generated.
func (p ChatPacket) IsSystem() bool { return p.Sender == "server" }

// ErrorKind is the wire-visible error taxonomy (spec §3).
type ErrorKind string

const (
	ErrorNetwork         ErrorKind = "network"
	ErrorUsernameTaken   ErrorKind = "username_taken"
	ErrorUsernameTooShort ErrorKind = "username_too_short"
	ErrorInternal        ErrorKind = "internal"
)

// Kind name constants for the Message tagged union.
const (
	TypeChat            = "chat"
	TypeJoin            = "join"
	TypeHeartbeat       = "heartbeat"
	TypeHistoryRequest  = "history_request"
	TypeHistoryResponse = "history_response"
	TypeError           = "error"
)

// Message is the wire-visible tagged union. Exactly one of the payload
// fields is populated, selected by Type.
type Message struct {
	Type string `json:"type"`

	// Chat
	Chat *ChatPacket `json:"chat,omitempty"`

	// Join
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// HistoryRequest
	Before int64 `json:"before,omitempty"`

	// HistoryResponse
	History []ChatPacket `json:"history"`

	// Error
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// ChatMessage builds a Message carrying a ChatPacket.
func ChatMessage(p ChatPacket) Message {
	return Message{Type: TypeChat, Chat: &p}
}

// JoinMessage builds a Join request Message.
func JoinMessage(username, password string) Message {
	return Message{Type: TypeJoin, Username: username, Password: password}
}

// HeartbeatMessage builds a Heartbeat Message.
func HeartbeatMessage() Message {
	return Message{Type: TypeHeartbeat}
}

// HistoryRequestMessage builds a HistoryRequest Message asking for
// messages strictly before the given Unix timestamp.
func HistoryRequestMessage(before int64) Message {
	return Message{Type: TypeHistoryRequest, Before: before}
}

// HistoryResponseMessage builds a HistoryResponse Message.
func HistoryResponseMessage(packets []ChatPacket) Message {
	if packets == nil {
		packets = []ChatPacket{}
	}
	return Message{Type: TypeHistoryResponse, History: packets}
}

// ErrorMessage builds an Error Message of the given kind.
func ErrorMessage(kind ErrorKind) Message {
	return Message{Type: TypeError, ErrorKind: kind}
}
