// Package bridge implements the per-connection bridge: the goroutine pair
// forwarding frames between one WebSocket and its room's supervisor,
// grounded on spec.md §4.4 and, for the concurrent-pump shape, on
// api/internal/websocket/hub.go's readPump/writePump pair. The richer
// semantics here (header filtering, cache replay, attach barrier) have no
// single original_source file to mirror one-to-one; original_source/
// src/connection.rs is an older, simpler variant and is not representative.
package bridge

import (
	"github.com/rs/zerolog"

	"github.com/scalesocket/scalesocket/internal/codec"
	"github.com/scalesocket/scalesocket/internal/room"
	"github.com/scalesocket/scalesocket/internal/types"
)

// Gorilla's websocket package defines TextMessage=1, BinaryMessage=2,
// CloseMessage=8; these mirror those values so internal/httpapi's
// *websocket.Conn satisfies types.Socket without any translation layer.
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
)

// Params configures one bridge run.
type Params struct {
	Room   types.RoomID
	Conn   types.ConnID
	Socket types.Socket

	Supervisor *room.Supervisor

	// CacheSnapshot is replayed to Socket before any live broadcast
	// message, captured by the reactor at attach time.
	CacheSnapshot []types.Message

	// Barrier, if non-nil, must open before socket->child forwarding
	// begins (a cold-start attach).
	Barrier *room.Barrier

	ClientFraming codec.Framing
	Binary        bool

	Events chan<- types.Event
	Env    types.Env

	Log *zerolog.Logger
}

// Run drives one connection until the socket closes, the room's broadcast
// bus ends (child gone), or the supervisor stops accepting ingress. It
// blocks until termination and then emits a Disconnect event. Callers
// should invoke Run in its own goroutine.
func Run(p Params) {
	defer func() {
		p.Events <- types.Event{
			Kind:   types.EventDisconnect,
			Room:   p.Room,
			ConnID: p.Conn,
			Env:    p.Env,
		}
	}()

	sub, unsubscribe := p.Supervisor.Bus.Subscribe()
	defer unsubscribe()

	if err := replayCache(p.Socket, p.CacheSnapshot, p.Binary); err != nil {
		p.Log.Debug().Err(err).Msg("cache replay failed, closing connection")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpChildToSocket(p, sub)
	}()

	// pumpSocketToChild returning means the socket is gone (closed,
	// errored, or the room's supervisor exited and ingress is no longer
	// useful); unsubscribing here ends the range loop in the other
	// goroutine so Run doesn't block on <-done forever.
	pumpSocketToChild(p)
	unsubscribe()
	<-done
}

func replayCache(sock types.Socket, snapshot []types.Message, binary bool) error {
	wireType := TextMessage
	if binary {
		wireType = BinaryMessage
	}
	for _, msg := range snapshot {
		if err := sock.WriteMessage(wireType, msg.Payload); err != nil {
			return err
		}
	}
	return nil
}

// pumpChildToSocket delivers broadcast messages addressed to this
// connection (or to everyone) until the bus ends.
func pumpChildToSocket(p Params, sub <-chan types.Message) {
	wireType := TextMessage
	if p.Binary {
		wireType = BinaryMessage
	}
	for msg := range sub {
		if !(msg.Header.Broadcast() || msg.Header.To == p.Conn) {
			continue
		}
		if err := p.Socket.WriteMessage(wireType, msg.Payload); err != nil {
			p.Log.Debug().Err(err).Msg("write to socket failed, closing connection")
			_ = p.Socket.Close()
			return
		}
	}
}

// pumpSocketToChild reads client frames and forwards them to the room's
// ingress queue until the socket closes or errors. If Barrier is set (a
// cold-start attach), it waits for the child to finish spawning before the
// first forward.
func pumpSocketToChild(p Params) {
	if p.Barrier != nil {
		p.Barrier.Wait()
	}

	for {
		msgType, payload, err := p.Socket.ReadMessage()
		if err != nil {
			return
		}
		if msgType == CloseMessage {
			return
		}

		out, err := codec.EncodeToChild(p.ClientFraming, p.Conn, payload)
		if err != nil {
			p.Log.Warn().Err(err).Msg("dropping unparseable client message")
			continue
		}
		p.Supervisor.Send(out)
	}
}
