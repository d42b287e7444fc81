// Package cache implements the per-room ring buffer that replays recent
// server-to-client messages to newly attached connections, grounded on
// spec.md §4.2 (no direct original_source counterpart: the Rust original's
// cache lives inline in channel.rs, folded here into its own package because
// Go idiom favors a small standalone type over an embedded field).
package cache

import (
	"sync"

	"github.com/scalesocket/scalesocket/internal/types"
)

// Policy controls which child->client messages are admitted into the ring.
type Policy int

const (
	PolicyAll Policy = iota
	PolicyTagged
)

// ParsePolicy maps the TYPE portion of --cache [TYPE:]SIZE.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "all":
		return PolicyAll, true
	case "tagged":
		return PolicyTagged, true
	default:
		return PolicyAll, false
	}
}

// ValidSizes enumerates the only sizes the CLI accepts.
var ValidSizes = [...]int{1, 8, 64}

// ValidSize reports whether n is one of the allowed ring sizes.
func ValidSize(n int) bool {
	for _, v := range ValidSizes {
		if v == n {
			return true
		}
	}
	return false
}

// Buffer is a bounded, pre-allocated FIFO ring of payloads. It is safe for
// concurrent use.
type Buffer struct {
	mu     sync.Mutex
	policy Policy
	size   int
	items  [][]byte
	next   int
	count  int
}

// New constructs a ring of the given size and admission policy. Panics if
// size is not one of ValidSizes; callers must validate at config time.
func New(size int, policy Policy) *Buffer {
	if !ValidSize(size) {
		panic("cache: invalid ring size")
	}
	return &Buffer{
		policy: policy,
		size:   size,
		items:  make([][]byte, size),
	}
}

// Write admits msg into the ring if the policy accepts it. Meta messages
// are never admitted regardless of policy.
func (b *Buffer) Write(h types.Header, payload []byte) {
	if h.IsMeta {
		return
	}
	if b.policy == PolicyTagged && !h.IsCache {
		return
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = cp
	b.next = (b.next + 1) % b.size
	if b.count < b.size {
		b.count++
	}
}

// Snapshot returns the buffer's current contents in FIFO order, each
// stamped as a broadcast message: the cache replay addresses every
// connection regardless of the original message's routing.
func (b *Buffer) Snapshot() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Message, 0, b.count)
	start := (b.next - b.count + b.size) % b.size
	for i := 0; i < b.count; i++ {
		idx := (start + i) % b.size
		out = append(out, types.Message{
			Header:  types.BroadcastHeader(),
			Payload: b.items[idx],
		})
	}
	return out
}
