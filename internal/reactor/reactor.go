// Package reactor implements the single-writer event reactor: the sole
// owner of the room/connection/process state maps, serializing
// Connect/Disconnect/ProcessExit/ProcessMeta/Shutdown events. Grounded on
// original_source/src/events.rs's State/handle().
package reactor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scalesocket/scalesocket/internal/bridge"
	"github.com/scalesocket/scalesocket/internal/cache"
	"github.com/scalesocket/scalesocket/internal/codec"
	"github.com/scalesocket/scalesocket/internal/envtemplate"
	"github.com/scalesocket/scalesocket/internal/logging"
	"github.com/scalesocket/scalesocket/internal/ports"
	"github.com/scalesocket/scalesocket/internal/room"
	"github.com/scalesocket/scalesocket/internal/roommetrics"
	"github.com/scalesocket/scalesocket/internal/types"
)

// Config is the subset of the broker's configuration the reactor and the
// supervisors it spawns need. internal/config.Config maps onto this at
// startup.
type Config struct {
	Cmd  string
	Args []string

	Binary bool

	TCP         bool
	AttachDelay time.Duration

	ClientFraming codec.Framing
	ServerFraming codec.Framing

	JoinMsg  string
	LeaveMsg string

	CacheEnabled bool
	CacheSize    int
	CachePolicy  cache.Policy
	CachePersist bool

	PassEnv []string

	Oneshot bool
}

type procEntry struct {
	supervisor *room.Supervisor
	port       *uint16
}

// Reactor owns all mutable room/connection/process state. Its loop runs on
// a single goroutine; every other goroutine communicates with it only
// through the events channel.
type Reactor struct {
	cfg     Config
	portMgr *ports.Pool // nil unless cfg.TCP
	metrics *roommetrics.Store

	conns map[types.RoomID]map[types.ConnID]types.Env
	procs map[types.RoomID]*procEntry
	cache map[types.RoomID]*cache.Buffer

	nextConnID uint32

	events chan types.Event
	done   chan struct{}

	log *zerolog.Logger
}

// New constructs a Reactor. portMgr may be nil when cfg.TCP is false.
func New(cfg Config, portMgr *ports.Pool, metrics *roommetrics.Store, log *zerolog.Logger) *Reactor {
	return &Reactor{
		cfg:     cfg,
		portMgr: portMgr,
		metrics: metrics,
		conns:   make(map[types.RoomID]map[types.ConnID]types.Env),
		procs:   make(map[types.RoomID]*procEntry),
		cache:   make(map[types.RoomID]*cache.Buffer),
		events:  make(chan types.Event, 64),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Events returns the channel producers (the HTTP layer, room supervisors,
// bridges) send events on.
func (r *Reactor) Events() chan<- types.Event {
	return r.events
}

// Done is closed once the reactor's loop has exited, whether from an
// explicit Shutdown event or oneshot mode ending the first room.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

// Run executes the event loop until Shutdown or, in oneshot mode, the
// first room's end. Intended to run on its own goroutine; it is the only
// goroutine that ever touches r.conns/r.procs/r.cache.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)

	hostEnv := hostEnviron()

loop:
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case ev := <-r.events:
			switch ev.Kind {
			case types.EventConnect:
				if r.handleConnect(ctx, ev, hostEnv) == breakLoop {
					break loop
				}
			case types.EventDisconnect:
				if r.handleDisconnect(ev) == breakLoop {
					break loop
				}
			case types.EventProcessExit:
				if r.handleProcessExit(ev) == breakLoop {
					break loop
				}
			case types.EventProcessMeta:
				r.handleProcessMeta(ev)
			case types.EventShutdown:
				break loop
			}
		}
	}

	r.shutdown()
}

type loopAction int

const (
	continueLoop loopAction = iota
	breakLoop
)

func (r *Reactor) handleConnect(ctx context.Context, ev types.Event, hostEnv map[string]string) loopAction {
	roomID := ev.Room
	req := ev.Conn

	existing, hasProc := r.procs[roomID]

	if hasProc && r.cfg.Oneshot {
		req.Result <- types.ConnectResult{Accepted: false}
		_ = req.Socket.Close()
		return continueLoop
	}

	r.nextConnID++
	connID := types.ConnID(r.nextConnID)

	var snapshot []types.Message
	if buf, ok := r.cache[roomID]; ok {
		snapshot = buf.Snapshot()
	}

	if hasProc {
		r.metrics.IncConnections(roomID)
		r.attachConnection(roomID, connID, req.Env)
		req.Result <- types.ConnectResult{Accepted: true, ConnID: connID}
		r.startBridge(roomID, connID, req, existing.supervisor, snapshot, nil)
		r.maybeSendJoinMsg(connID, req.Env, existing.supervisor)
		return continueLoop
	}

	barrier := room.NewBarrier()
	var cacheBuf *cache.Buffer
	if r.cfg.CacheEnabled {
		if reused, ok := r.cache[roomID]; ok {
			cacheBuf = reused
		} else {
			cacheBuf = cache.New(r.cfg.CacheSize, r.cfg.CachePolicy)
		}
		r.cache[roomID] = cacheBuf
	}

	var port *uint16
	if r.cfg.TCP {
		p, ok := r.portMgr.Acquire()
		if !ok {
			req.Result <- types.ConnectResult{Accepted: false}
			_ = req.Socket.Close()
			return continueLoop
		}
		port = &p
	}

	// Only now is the connection actually going to be attached, so only
	// now does it count toward connectionsOpen; counting any earlier would
	// leak an open-connection series for a connection that never attached
	// if the port pool above turned out to be exhausted.
	r.metrics.IncConnections(roomID)

	opts := r.supervisorOptions(req.Env, hostEnv, port)
	entry := &procEntry{port: port}
	sup := room.Run(ctx, roomID, opts, barrier, cacheBuf, r.events, func(info room.ExitInfo) {
		r.events <- types.Event{Kind: types.EventProcessExit, Room: roomID, ExitCode: info.Code, Port: info.Port}
	}, logging.Room(string(roomID)))
	entry.supervisor = sup
	r.procs[roomID] = entry

	r.attachConnection(roomID, connID, req.Env)
	req.Result <- types.ConnectResult{Accepted: true, ConnID: connID}
	r.startBridge(roomID, connID, req, sup, snapshot, barrier)
	r.maybeSendJoinMsg(connID, req.Env, sup)

	return continueLoop
}

func (r *Reactor) attachConnection(roomID types.RoomID, connID types.ConnID, env types.Env) {
	set, ok := r.conns[roomID]
	if !ok {
		set = make(map[types.ConnID]types.Env)
		r.conns[roomID] = set
	}
	set[connID] = env
}

func (r *Reactor) startBridge(roomID types.RoomID, connID types.ConnID, req types.ConnRequest, sup *room.Supervisor, snapshot []types.Message, barrier *room.Barrier) {
	go bridge.Run(bridge.Params{
		Room:          roomID,
		Conn:          connID,
		Socket:        req.Socket,
		Supervisor:    sup,
		CacheSnapshot: snapshot,
		Barrier:       barrier,
		ClientFraming: r.cfg.ClientFraming,
		Binary:        r.cfg.Binary,
		Events:        r.events,
		Env:           req.Env,
		Log:           logging.Bridge(string(roomID), uint32(connID)),
	})
}

func (r *Reactor) maybeSendJoinMsg(connID types.ConnID, env types.Env, sup *room.Supervisor) {
	if r.cfg.JoinMsg == "" {
		return
	}
	msg := envtemplate.Expand(r.cfg.JoinMsg, connID, env)
	sup.Send([]byte(msg))
}

func (r *Reactor) handleDisconnect(ev types.Event) loopAction {
	r.metrics.DecConnections(ev.Room)

	set, ok := r.conns[ev.Room]
	if !ok {
		// Known caveat (spec.md §9): the child may already have exited and
		// removed this room's entries before the Disconnect for one of its
		// former connections arrives. Resolution: treat it as a no-op
		// rather than dereferencing a missing map entry.
		return r.maybeBreakOnOneshot()
	}
	if _, present := set[ev.ConnID]; !present {
		return r.maybeBreakOnOneshot()
	}
	delete(set, ev.ConnID)

	if entry, ok := r.procs[ev.Room]; ok && r.cfg.LeaveMsg != "" {
		msg := envtemplate.Expand(r.cfg.LeaveMsg, ev.ConnID, ev.Env)
		entry.supervisor.Send([]byte(msg))
	}

	if len(set) == 0 {
		delete(r.conns, ev.Room)
		if entry, ok := r.procs[ev.Room]; ok {
			entry.supervisor.Kill()
		}
	}

	return r.maybeBreakOnOneshot()
}

func (r *Reactor) maybeBreakOnOneshot() loopAction {
	if r.cfg.Oneshot {
		return breakLoop
	}
	return continueLoop
}

func (r *Reactor) handleProcessExit(ev types.Event) loopAction {
	entry, ok := r.procs[ev.Room]
	if ok && entry.port != nil && r.portMgr != nil {
		r.portMgr.Release(*entry.port)
	}
	delete(r.procs, ev.Room)

	if !r.cfg.CachePersist {
		delete(r.cache, ev.Room)
	}
	r.metrics.ClearRoom(ev.Room)

	code := "unknown"
	if ev.ExitCode != nil {
		code = fmt.Sprintf("%d", *ev.ExitCode)
	}
	r.log.Info().Str("room", string(ev.Room)).Str("exit_code", code).Msg("room process exited")

	return r.maybeBreakOnOneshot()
}

func (r *Reactor) handleProcessMeta(ev types.Event) {
	var meta json.RawMessage = ev.MetaValue
	r.metrics.SetMetadata(ev.Room, meta)
}

func (r *Reactor) shutdown() {
	for _, entry := range r.procs {
		entry.supervisor.Kill()
	}
}

func (r *Reactor) supervisorOptions(env types.Env, hostEnv map[string]string, port *uint16) room.Options {
	environ := envtemplate.ChildEnviron(hostEnv, r.cfg.PassEnv, env, port)
	opts := room.Options{
		Cmd:           r.cfg.Cmd,
		Args:          r.cfg.Args,
		Binary:        r.cfg.Binary,
		TCP:           r.cfg.TCP,
		AttachDelay:   r.cfg.AttachDelay,
		ClientFraming: r.cfg.ClientFraming,
		ServerFraming: r.cfg.ServerFraming,
		Environ:       environ,
	}
	if port != nil {
		opts.Port = *port
	}
	return opts
}

func hostEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
