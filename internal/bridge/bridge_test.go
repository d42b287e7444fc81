package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/scalesocket/scalesocket/internal/codec"
	"github.com/scalesocket/scalesocket/internal/room"
	"github.com/scalesocket/scalesocket/internal/types"
)

// fakeSocket is an in-memory types.Socket: reads are served from a queue
// supplied up front, writes are captured for assertions.
type fakeSocket struct {
	mu      sync.Mutex
	reads   []fakeFrame
	readIdx int
	writes  []types.Message
	closed  bool
}

type fakeFrame struct {
	msgType int
	payload []byte
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readIdx >= len(f.reads) {
		// Block briefly then report closed, like a real socket with no
		// more frames coming.
		return 0, nil, errors.New("fakeSocket: no more frames")
	}
	fr := f.reads[f.readIdx]
	f.readIdx++
	return fr.msgType, fr.payload, nil
}

func (f *fakeSocket) WriteMessage(msgType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, types.Message{Payload: cp})
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) writtenPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, m := range f.writes {
		out[i] = string(m.Payload)
	}
	return out
}

func discardLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestSupervisor(t *testing.T, opts room.Options) (*room.Supervisor, chan types.Event) {
	t.Helper()
	events := make(chan types.Event, 16)
	exitCh := make(chan room.ExitInfo, 1)
	sup := room.Run(context.Background(), types.RoomID("r1"), opts, nil, nil, events, func(info room.ExitInfo) {
		exitCh <- info
	}, discardLogger())
	return sup, events
}

func TestRunReplaysCacheBeforeLiveMessages(t *testing.T) {
	sup, events := newTestSupervisor(t, room.Options{Cmd: "cat"})

	sock := &fakeSocket{}
	done := make(chan struct{})
	go func() {
		Run(Params{
			Room:          "r1",
			Conn:          types.ConnID(1),
			Socket:        sock,
			Supervisor:    sup,
			CacheSnapshot: []types.Message{{Payload: []byte("cached1")}, {Payload: []byte("cached2")}},
			Events:        events,
			Log:           discardLogger(),
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not terminate")
	}

	require.Equal(t, []string{"cached1", "cached2"}, sock.writtenPayloads())
}

func TestRunForwardsClientInputToChildAndBack(t *testing.T) {
	sup, events := newTestSupervisor(t, room.Options{Cmd: "cat"})

	sock := &fakeSocket{reads: []fakeFrame{{msgType: TextMessage, payload: []byte("hello")}}}
	ch, unsub := sup.Bus.Subscribe()
	defer unsub()

	doneCh := make(chan struct{})
	go func() {
		Run(Params{
			Room:       "r1",
			Conn:       types.ConnID(1),
			Socket:     sock,
			Supervisor: sup,
			Events:     events,
			Log:        discardLogger(),
		})
		close(doneCh)
	}()

	select {
	case msg := <-ch:
		require.Equal(t, "hello", string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("child never echoed input")
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not terminate after socket read error")
	}
}

func TestRunFiltersByToHeader(t *testing.T) {
	sup, events := newTestSupervisor(t, room.Options{Cmd: "cat"})

	sock := &fakeSocket{}
	doneCh := make(chan struct{})
	go func() {
		Run(Params{
			Room:       "r1",
			Conn:       types.ConnID(2),
			Socket:     sock,
			Supervisor: sup,
			Events:     events,
			Log:        discardLogger(),
		})
		close(doneCh)
	}()

	// Give the bridge a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	sup.Bus.Publish(types.Message{Header: types.Header{To: types.ConnID(99), ToSet: true}, Payload: []byte("not for me")})
	sup.Bus.Publish(types.Message{Header: types.BroadcastHeader(), Payload: []byte("for everyone")})

	time.Sleep(100 * time.Millisecond)
	sup.Kill()
	<-doneCh

	require.Equal(t, []string{"for everyone"}, sock.writtenPayloads())
}

func TestRunEmitsDisconnectOnTermination(t *testing.T) {
	sup, events := newTestSupervisor(t, room.Options{Cmd: "cat"})

	sock := &fakeSocket{}
	doneCh := make(chan struct{})
	go func() {
		Run(Params{
			Room:       "r1",
			Conn:       types.ConnID(7),
			Socket:     sock,
			Supervisor: sup,
			Events:     events,
			Log:        discardLogger(),
		})
		close(doneCh)
	}()
	<-doneCh

	select {
	case ev := <-events:
		require.Equal(t, types.EventDisconnect, ev.Kind)
		require.Equal(t, types.ConnID(7), ev.ConnID)
	case <-time.After(2 * time.Second):
		t.Fatal("no Disconnect event emitted")
	}
}

func TestRunWaitsOnBarrierBeforeForwarding(t *testing.T) {
	sup, events := newTestSupervisor(t, room.Options{Cmd: "cat"})

	barrier := room.NewBarrier()
	sock := &fakeSocket{reads: []fakeFrame{{msgType: TextMessage, payload: []byte("queued")}}}

	doneCh := make(chan struct{})
	go func() {
		Run(Params{
			Room:          "r1",
			Conn:          types.ConnID(3),
			Socket:        sock,
			Supervisor:    sup,
			Barrier:       barrier,
			ClientFraming: codec.FramingNone,
			Events:        events,
			Log:           discardLogger(),
		})
		close(doneCh)
	}()

	select {
	case <-doneCh:
		t.Fatal("bridge must not finish reading before barrier opens")
	case <-time.After(100 * time.Millisecond):
	}

	barrier.Open()
	<-doneCh
}
