package room

import "sync"

// Barrier is the one-shot "child is ready" signal shared between a
// supervisor and the first bridge that attaches during a cold start.
// spec.md §4.5/§4.4 describe this as a two-party barrier (the original's
// tokio::sync::Barrier(2)); here it is simplified to a single-writer
// readiness gate, since Go has no built-in rendezvous barrier and the only
// thing that actually needs synchronizing is "don't forward client input
// until the child is spawned" — see DESIGN.md.
type Barrier struct {
	once  sync.Once
	ready chan struct{}
}

// NewBarrier constructs a barrier not yet open.
func NewBarrier() *Barrier {
	return &Barrier{ready: make(chan struct{})}
}

// Open signals readiness. Safe to call more than once (e.g. spawn failure
// then drain) and from any goroutine.
func (b *Barrier) Open() {
	b.once.Do(func() { close(b.ready) })
}

// Wait blocks until Open has been called.
func (b *Barrier) Wait() {
	<-b.ready
}
