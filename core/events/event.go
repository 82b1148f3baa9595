package events

import (
	"log/slog"
	"sync"

	"loanchain/core/types"
)

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry typed attributes.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is an emitted event with its position in the emission sequence.
type Record struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Recorder keeps the most recent events in a fixed-size ring and logs each
// one at debug level.
type Recorder struct {
	mu     sync.RWMutex
	ring   []Record
	next   int
	full   bool
	seq    uint64
	logger *slog.Logger
}

// NewRecorder returns a recorder retaining up to size events.
func NewRecorder(size int, logger *slog.Logger) *Recorder {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{ring: make([]Record, size), logger: logger}
}

func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	record := Record{Type: evt.EventType()}
	if payload, ok := evt.(Payload); ok {
		if typed := payload.Event(); typed != nil {
			record.Attributes = typed.Clone().Attributes
		}
	}

	r.mu.Lock()
	r.seq++
	record.Seq = r.seq
	r.ring[r.next] = record
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	r.logger.Debug("event emitted", "seq", record.Seq, "type", record.Type)
}

// Recent returns up to limit events, oldest first. A non-positive limit
// returns everything retained.
func (r *Recorder) Recent(limit int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.ring)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Record, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += len(r.ring)
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}
