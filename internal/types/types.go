// Package types holds the value types shared across the broker's core
// components: room/connection identifiers, the routing header, and the
// events the reactor consumes.
package types

import "encoding/json"

// RoomID names a multiplex endpoint. It is whatever path segment (or
// ?room= override) the HTTP layer extracted; the core never validates it
// beyond using it as a map key.
type RoomID string

// ConnID uniquely identifies one attached WebSocket connection for the
// lifetime of the broker process. Zero is reserved to mean "broadcast" in
// wire headers; real connections start at 1.
type ConnID uint32

// Header carries routing metadata extracted from a framed message.
type Header struct {
	To     ConnID // zero means broadcast
	ToSet  bool   // true when To should be treated as a specific target
	IsMeta bool
	IsCache bool
}

// Broadcast reports whether this header addresses every attached connection.
func (h Header) Broadcast() bool {
	return !h.ToSet
}

// BroadcastHeader returns a Header addressed to every connection.
func BroadcastHeader() Header {
	return Header{}
}

// Message is one payload traveling on a room's broadcast bus, paired with
// its routing header.
type Message struct {
	Header  Header
	Payload []byte
}

// EventKind discriminates the events delivered to the reactor.
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventProcessExit
	EventProcessMeta
	EventShutdown
)

// Event is the reactor's single inbound message type. Only the fields
// relevant to Kind are populated; see the doc comment on each field.
type Event struct {
	Kind EventKind

	Room RoomID

	// EventConnect
	Conn    ConnRequest
	// EventDisconnect
	ConnID ConnID
	Env    Env

	// EventProcessExit
	ExitCode *int
	Port     *uint16

	// EventProcessMeta
	MetaValue json.RawMessage
}

// ConnRequest is the payload of an EventConnect: everything the reactor
// needs to attach a bridge once it decides whether a room already has a
// running child.
type ConnRequest struct {
	Env    Env
	Socket Socket
	// Result receives the outcome of attaching: nil on success, or a
	// reason the connection was refused (oneshot collision).
	Result chan<- ConnectResult
}

// ConnectResult is delivered back to the HTTP handler once the reactor has
// decided how to handle a Connect.
type ConnectResult struct {
	Accepted bool
	ConnID   ConnID
}

// Env is the per-connection CGI-shaped environment plus query parameters,
// used both to build the child's OS environment and to expand join/leave
// templates.
type Env struct {
	QueryString string
	RemoteAddr  string
	Room        RoomID
	Query       map[string]string
}

// Socket is the minimal surface the core needs from a WebSocket connection;
// internal/httpapi supplies the real gorilla/websocket-backed implementation,
// tests supply fakes.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}
