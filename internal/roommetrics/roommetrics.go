// Package roommetrics is the metrics/metadata store: per-room connection
// counters and gauges, an auxiliary label set (client_golang's GaugeVec, like
// the Rust original's prometheus_client Family, does not expose label
// enumeration), and opaque per-room metadata JSON. Grounded on
// controller/pkg/metrics/metrics.go's GaugeVec/CounterVec registration
// style and original_source/src/metrics.rs's semantics.
package roommetrics

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalesocket/scalesocket/internal/types"
)

// Store holds the broker-wide Prometheus registry plus the per-room
// bookkeeping spec.md §4.7 requires on top of it.
type Store struct {
	registry *prometheus.Registry

	connectionsTotal *prometheus.CounterVec
	connectionsOpen  *prometheus.GaugeVec

	mu       sync.RWMutex
	rooms    map[types.RoomID]struct{} // auxiliary label set
	open     map[types.RoomID]int      // mirrors connectionsOpen for API reads
	metadata map[types.RoomID]json.RawMessage
}

// New builds a Store registered against a fresh prometheus.Registry.
func New() *Store {
	registry := prometheus.NewRegistry()

	s := &Store{
		registry: registry,
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalesocket_room_connections_total",
				Help: "Total WebSocket connections accepted per room.",
			},
			[]string{"room"},
		),
		connectionsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scalesocket_room_connections_open",
				Help: "Currently open WebSocket connections per room.",
			},
			[]string{"room"},
		),
		rooms:    make(map[types.RoomID]struct{}),
		open:     make(map[types.RoomID]int),
		metadata: make(map[types.RoomID]json.RawMessage),
	}
	registry.MustRegister(s.connectionsTotal, s.connectionsOpen)
	return s
}

// Registry returns the registry for wiring into promhttp.HandlerFor.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// IncConnections records a new connection to room: bumps the total counter
// and the open gauge, and tracks room in the auxiliary label set on the
// 0->1 transition.
func (s *Store) IncConnections(room types.RoomID) {
	s.connectionsTotal.WithLabelValues(string(room)).Inc()
	s.connectionsOpen.WithLabelValues(string(room)).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = struct{}{}
	s.open[room]++
}

// DecConnections records a connection leaving room.
func (s *Store) DecConnections(room types.RoomID) {
	s.connectionsOpen.WithLabelValues(string(room)).Dec()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[room] > 0 {
		s.open[room]--
	}
}

// ClearRoom removes room from the auxiliary label set and its metadata,
// called on ProcessExit. It deliberately does not delete the underlying
// Prometheus label series: client_golang has no atomic "delete if zero"
// primitive, and a reappearing room reuses the same series.
func (s *Store) ClearRoom(room types.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	delete(s.metadata, room)
	delete(s.open, room)
}

// SetMetadata stores the opaque JSON value most recently published by
// room's child via a _meta:true message.
func (s *Store) SetMetadata(room types.RoomID, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[room] = value
}

// RoomSummary is the JSON shape returned by /api/rooms and /api/<room>/.
type RoomSummary struct {
	Name        string          `json:"name"`
	Connections int             `json:"connections"`
	Metadata    json.RawMessage `json:"metadata"`
}

// connectionsFor reads the open-connection count. client_golang's GaugeVec
// has no Get(); rather than decode a dto.Metric through Write(), the store
// mirrors the gauge in a plain map kept under the same lock as rooms.
func (s *Store) connectionsFor(room types.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open[room]
}

// Rooms returns one summary per room currently tracked in the label set,
// matching /api/rooms.
func (s *Store) Rooms() []RoomSummary {
	s.mu.RLock()
	names := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		names = append(names, string(r))
	}
	s.mu.RUnlock()
	sort.Strings(names)

	out := make([]RoomSummary, 0, len(names))
	for _, n := range names {
		out = append(out, s.Room(types.RoomID(n)))
	}
	return out
}

// Room returns the summary for one room. Metadata is nil if the child
// never published any.
func (s *Store) Room(room types.RoomID) RoomSummary {
	s.mu.RLock()
	meta := s.metadata[room]
	s.mu.RUnlock()
	return RoomSummary{
		Name:        string(room),
		Connections: s.connectionsFor(room),
		Metadata:    meta,
	}
}
