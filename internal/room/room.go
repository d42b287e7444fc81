// Package room implements the per-room supervisor: it owns the spawned
// child process (stdio or TCP), a bounded broadcast fan-out of its output,
// an ingress queue from attached bridges, a kill channel, and the attach
// barrier synchronizing first-client startup. Grounded on
// original_source/src/process.rs and src/channel.rs, and on
// api/internal/sync/git.go's exec.CommandContext + explicit env style.
package room

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/scalesocket/scalesocket/internal/bus"
	"github.com/scalesocket/scalesocket/internal/cache"
	"github.com/scalesocket/scalesocket/internal/codec"
	"github.com/scalesocket/scalesocket/internal/types"
)

// Options configures one room's child process.
type Options struct {
	Cmd  string
	Args []string

	Binary bool

	TCP         bool
	Port        uint16 // only meaningful when TCP
	AttachDelay time.Duration

	ClientFraming codec.Framing
	ServerFraming codec.Framing

	Environ []string
}

// ExitInfo is what the supervisor reports to the reactor when its child
// terminates, including when it never successfully started.
type ExitInfo struct {
	Code *int // nil if the process never started or was killed without a wait()
	Port *uint16
}

// Supervisor owns one room's child process. Its channels are created
// synchronously so the reactor can register the room before the child has
// actually spawned; the real process I/O happens on a background goroutine
// started by Run.
type Supervisor struct {
	Room types.RoomID

	Bus     *bus.Bus
	ingress chan []byte
	kill    chan struct{}

	cache *cache.Buffer
}

// ingressQueueSize is a generously large buffer standing in for the
// original's unbounded mpsc ingress queue; see DESIGN.md for why Go's
// buffered channel is an acceptable stand-in here (back-pressure on ingress
// was never part of the spec's documented bounded-buffer policy, which
// applies only to the broadcast bus).
const ingressQueueSize = 4096

// Send enqueues a client->child payload. Never blocks under normal
// operation given ingressQueueSize; if the queue is genuinely full the
// caller blocks, which is preferable to silently dropping client input.
func (s *Supervisor) Send(payload []byte) {
	s.ingress <- payload
}

// Kill requests termination of the child. Safe to call multiple times.
func (s *Supervisor) Kill() {
	select {
	case <-s.kill:
	default:
		close(s.kill)
	}
}

// Run constructs a Supervisor and starts its background goroutine, which
// spawns the child (after waiting on barrier, if non-nil), runs the main
// select loop, and reports back through events and onExit.
func Run(ctx context.Context, room types.RoomID, opts Options, barrier *Barrier, cacheBuf *cache.Buffer, events chan<- types.Event, onExit func(ExitInfo), log *zerolog.Logger) *Supervisor {
	s := &Supervisor{
		Room:    room,
		Bus:     bus.New(),
		ingress: make(chan []byte, ingressQueueSize),
		kill:    make(chan struct{}),
		cache:   cacheBuf,
	}

	go s.run(ctx, opts, barrier, events, onExit, log)
	return s
}

func (s *Supervisor) run(ctx context.Context, opts Options, barrier *Barrier, events chan<- types.Event, onExit func(ExitInfo), log *zerolog.Logger) {
	defer s.Bus.Close()

	proc, err := spawn(ctx, opts, log)
	if barrier != nil {
		barrier.Open()
	}
	if err != nil {
		log.Warn().Err(err).Msg("failed to spawn child process")
		onExit(ExitInfo{Port: proc.port})
		return
	}
	// kill_on_drop: if this goroutine exits via panic recovery without
	// reaching the normal exit paths below, the child must not be
	// orphaned. original_source/src/utils.rs::run relies on Tokio's
	// kill_on_drop(true); Go has no destructor equivalent, so the
	// supervisor arranges it explicitly.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("room supervisor panicked, killing child")
			_ = proc.kill()
			panic(r)
		}
	}()

	childOutput := make(chan []byte, bus.Capacity)
	go readChildOutput(proc.stdout, opts.Binary, childOutput, log)

	exitCh := make(chan *int, 1)
	go func() {
		code := proc.wait()
		exitCh <- code
	}()

	var finalCode *int
loop:
	for {
		select {
		case payload, ok := <-s.ingress:
			if !ok {
				continue
			}
			if err := proc.writeChild(payload, opts.Binary); err != nil {
				log.Warn().Err(err).Msg("failed writing to child stdin")
			}
		case raw, ok := <-childOutput:
			if !ok {
				// child stdout closed; keep waiting for exit code.
				continue
			}
			s.handleChildOutput(opts.ServerFraming, raw, events, log)
		case <-s.kill:
			log.Debug().Msg("kill requested, terminating child")
			_ = proc.kill()
			finalCode = nil
			break loop
		case code := <-exitCh:
			finalCode = code
			break loop
		}
	}

	// Drain: deliver any output still buffered so late final frames reach
	// listeners before the room is torn down. The timeout is a safety net;
	// in the normal case childOutput closes promptly once the child's
	// stdout reader hits EOF after the process has already exited.
	drainTimer := time.NewTimer(2 * time.Second)
	defer drainTimer.Stop()
drain:
	for {
		select {
		case raw, ok := <-childOutput:
			if !ok {
				break drain
			}
			s.handleChildOutput(opts.ServerFraming, raw, events, log)
		case <-drainTimer.C:
			break drain
		}
	}

	var port *uint16
	if opts.TCP {
		p := opts.Port
		port = &p
	}
	onExit(ExitInfo{Code: finalCode, Port: port})
}

func (s *Supervisor) handleChildOutput(framing codec.Framing, raw []byte, events chan<- types.Event, log *zerolog.Logger) {
	header, payload, err := codec.DecodeFromChild(framing, raw)
	if err != nil {
		log.Warn().Err(err).Msg("dropping unparseable child output")
		return
	}
	if header.IsMeta {
		if framing == codec.FramingGWSocket {
			log.Warn().Msg("binary framing cannot carry metadata, dropping")
			return
		}
		events <- types.Event{Kind: types.EventProcessMeta, Room: s.Room, MetaValue: payload}
		return
	}
	if s.cache != nil {
		s.cache.Write(header, payload)
	}
	s.Bus.Publish(types.Message{Header: header, Payload: payload})
}

func readChildOutput(r io.Reader, binary bool, out chan<- []byte, log *zerolog.Logger) {
	defer close(out)
	if binary {
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				out <- chunk
			}
			if err != nil {
				if err != io.EOF {
					log.Debug().Err(err).Msg("child stdout read error")
				}
				return
			}
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out <- []byte(line)
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("child stdout scan error")
	}
}

// runningProcess abstracts over the stdio-pipe and TCP-socket-pair sources,
// matching original_source/src/process.rs's RunningProcess/Source split.
type runningProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	conn   net.Conn // set only for TCP source
	port   *uint16
}

func (p *runningProcess) writeChild(payload []byte, binary bool) error {
	var w io.Writer = p.stdin
	if p.conn != nil {
		w = p.conn
	}
	if binary {
		_, err := w.Write(payload)
		return err
	}
	_, err := w.Write(append(append([]byte(nil), payload...), '\n'))
	return err
}

func (p *runningProcess) wait() *int {
	err := p.cmd.Wait()
	code := exitCode(p.cmd, err)
	return code
}

func (p *runningProcess) kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	// TODO: send SIGTERM and wait for a grace period before SIGKILL; see
	// DESIGN.md's Open Question on kill signal choice.
	return p.cmd.Process.Kill()
}

// exitCode extracts the child's exit code the way original_source's
// utils::exit_code does: Some(code) on normal exit, None when killed by
// signal or otherwise code-less.
func exitCode(cmd *exec.Cmd, waitErr error) *int {
	if waitErr == nil {
		code := cmd.ProcessState.ExitCode()
		return &code
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		if code >= 0 {
			return &code
		}
	}
	return nil
}

func spawn(ctx context.Context, opts Options, log *zerolog.Logger) (*runningProcess, error) {
	cmd := exec.CommandContext(ctx, opts.Cmd, opts.Args...)
	cmd.Env = opts.Environ

	if opts.TCP {
		return spawnTCP(ctx, cmd, opts, log)
	}
	return spawnStdio(cmd, opts, log)
}

func spawnStdio(cmd *exec.Cmd, opts Options, log *zerolog.Logger) (*runningProcess, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &runningProcess{cmd: cmd}, fmt.Errorf("room: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &runningProcess{cmd: cmd}, fmt.Errorf("room: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &runningProcess{cmd: cmd}, fmt.Errorf("room: spawn: %w", err)
	}
	log.Debug().Int("pid", cmd.Process.Pid).Msg("spawned child process")

	if opts.AttachDelay > 0 {
		time.Sleep(opts.AttachDelay)
	}

	return &runningProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func spawnTCP(ctx context.Context, cmd *exec.Cmd, opts Options, log *zerolog.Logger) (*runningProcess, error) {
	if err := cmd.Start(); err != nil {
		return &runningProcess{cmd: cmd, port: &opts.Port}, fmt.Errorf("room: spawn: %w", err)
	}
	log.Debug().Int("pid", cmd.Process.Pid).Uint16("port", opts.Port).Msg("spawned child process")

	if opts.AttachDelay > 0 {
		time.Sleep(opts.AttachDelay)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		_ = cmd.Process.Kill()
		return &runningProcess{cmd: cmd, port: &opts.Port}, fmt.Errorf("room: dial child at %s: %w", addr, err)
	}
	log.Debug().Str("addr", addr).Msg("connected to child process")

	return &runningProcess{cmd: cmd, conn: conn, stdout: conn, port: &opts.Port}, nil
}
