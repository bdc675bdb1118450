package streaming

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// BufferedEvent wraps an Event with bookkeeping the buffer needs but the
// Core and Emitter do not (SPEC_FULL §3).
type BufferedEvent struct {
	Event       Event
	InsertedAt  time.Time
	AccessCount int64
}

// Coverage answers whether a client resuming from offset can be served
// from the buffer, and how large the unrecoverable gap is (SPEC_FULL §4.B).
type Coverage struct {
	HasExact      bool
	MinAvailable  *uint64
	MaxAvailable  *uint64
	CanRecover    bool
	MissingCount  int
}

// Stats is a point-in-time snapshot of buffer occupancy, for the
// `GET /streams/{id}` status endpoint and metrics export.
type Stats struct {
	Size         int
	MaxSize      int
	MinOffset    *uint64
	MaxOffset    *uint64
}

// EventBuffer is a bounded, offset-indexed ring for one stream. All
// operations are serialized through a single mutex per SPEC_FULL §5;
// append never blocks on a consumer because there is no consumer here —
// consumers read a point-in-time copy.
type EventBuffer struct {
	mu sync.Mutex

	maxSize int
	maxAge  *time.Duration

	order []uint64 // offsets in insertion order; ascending, since offsets are monotone
	index map[uint64]*BufferedEvent

	// highWater is the largest offset ever appended, even if since evicted.
	// It lets coverage() distinguish "nothing has been emitted past this
	// offset yet" from "it existed and is now permanently lost".
	highWater *uint64
}

// NewEventBuffer creates a buffer with the given capacity. maxAge of zero
// means no age-based eviction.
func NewEventBuffer(maxSize int, maxAge time.Duration) *EventBuffer {
	b := &EventBuffer{
		maxSize: maxSize,
		index:   make(map[uint64]*BufferedEvent, maxSize),
	}
	if maxAge > 0 {
		b.maxAge = &maxAge
	}
	return b
}

// Append inserts event, evicting the oldest (smallest-offset) entry first
// if the buffer is at capacity. Always succeeds for a well-formed event.
func (b *EventBuffer) Append(event Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) >= b.maxSize && b.maxSize > 0 {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.index, oldest)
	}

	b.order = append(b.order, event.Offset)
	b.index[event.Offset] = &BufferedEvent{Event: event, InsertedAt: time.Now()}

	if b.highWater == nil || event.Offset > *b.highWater {
		hw := event.Offset
		b.highWater = &hw
	}
	return true
}

// Get returns the buffered event at offset, if still present.
func (b *EventBuffer) Get(offset uint64) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	be, ok := b.index[offset]
	if !ok {
		return Event{}, false
	}
	be.AccessCount++
	return be.Event, true
}

// GetFrom returns all buffered events with offset >= from, ascending, up
// to limit (0 means unlimited).
func (b *EventBuffer) GetFrom(from uint64, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	offsets := lo.Filter(b.order, func(o uint64, _ int) bool { return o >= from })
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	out := make([]Event, 0, len(offsets))
	for _, o := range offsets {
		if limit > 0 && len(out) >= limit {
			break
		}
		be := b.index[o]
		be.AccessCount++
		out = append(out, be.Event)
	}
	return out
}

// Coverage reports whether a client resuming from offset can be served
// from the buffer, per SPEC_FULL §4.B / §8 property 4.
func (b *EventBuffer) Coverage(offset uint64) Coverage {
	b.mu.Lock()
	defer b.mu.Unlock()

	cov := Coverage{}
	if _, ok := b.index[offset]; ok {
		cov.HasExact = true
	}

	if len(b.order) == 0 {
		cov.CanRecover = b.highWater == nil || *b.highWater <= offset
		return cov
	}

	minO := b.order[0]
	maxO := b.order[len(b.order)-1]
	cov.MinAvailable = &minO
	cov.MaxAvailable = &maxO
	cov.CanRecover = offset <= maxO

	if offset > minO {
		missing := 0
		for o := minO; o < offset; o++ {
			if _, ok := b.index[o]; !ok {
				missing++
			}
		}
		cov.MissingCount = missing
	}
	return cov
}

// CleanupExpired removes entries older than maxAge, returning the count
// removed. No-op if maxAge is unset.
func (b *EventBuffer) CleanupExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxAge == nil {
		return 0
	}
	cutoff := time.Now().Add(-*b.maxAge)

	kept := b.order[:0:0]
	removed := 0
	for _, o := range b.order {
		if be, ok := b.index[o]; ok && be.InsertedAt.Before(cutoff) {
			delete(b.index, o)
			removed++
			continue
		}
		kept = append(kept, o)
	}
	b.order = kept
	return removed
}

// Clear empties the buffer, including the high-water mark. Used when a
// stream is torn down entirely.
func (b *EventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.index = make(map[uint64]*BufferedEvent)
	b.highWater = nil
}

// Stats returns a point-in-time snapshot.
func (b *EventBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Size: len(b.order), MaxSize: b.maxSize}
	if len(b.order) > 0 {
		minO, maxO := b.order[0], b.order[len(b.order)-1]
		s.MinOffset = &minO
		s.MaxOffset = &maxO
	}
	return s
}

// Recent returns the newest n events, newest first.
func (b *EventBuffer) Recent(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, n)
	for i := len(b.order) - 1; i >= 0 && len(out) < n; i-- {
		be := b.index[b.order[i]]
		out = append(out, be.Event)
	}
	return out
}

// PerStreamBuffer is the stream_id -> EventBuffer registry, created lazily
// and torn down in bulk on shutdown (SPEC_FULL §4.B).
type PerStreamBuffer struct {
	mu      sync.Mutex
	buffers map[string]*EventBuffer

	defaultSize int
	defaultAge  time.Duration
}

// NewPerStreamBuffer creates the registry with defaults used when a
// stream doesn't supply its own buffer_size/buffer_age_seconds.
func NewPerStreamBuffer(defaultSize int, defaultAge time.Duration) *PerStreamBuffer {
	return &PerStreamBuffer{
		buffers:     make(map[string]*EventBuffer),
		defaultSize: defaultSize,
		defaultAge:  defaultAge,
	}
}

// GetOrCreate returns the buffer for streamID, creating one with size/age
// (falling back to defaults when zero) if it doesn't exist yet.
func (p *PerStreamBuffer) GetOrCreate(streamID string, size int, age time.Duration) *EventBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.buffers[streamID]; ok {
		return b
	}
	if size <= 0 {
		size = p.defaultSize
	}
	if age <= 0 {
		age = p.defaultAge
	}
	b := NewEventBuffer(size, age)
	p.buffers[streamID] = b
	return b
}

// Get returns the buffer for streamID if it exists.
func (p *PerStreamBuffer) Get(streamID string) (*EventBuffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buffers[streamID]
	return b, ok
}

// Delete tears down and forgets the buffer for streamID.
func (p *PerStreamBuffer) Delete(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.buffers, streamID)
}

// CleanupExpired runs age-based eviction across every buffer.
func (p *PerStreamBuffer) CleanupExpired() int {
	p.mu.Lock()
	bufs := make([]*EventBuffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		bufs = append(bufs, b)
	}
	p.mu.Unlock()

	total := 0
	for _, b := range bufs {
		total += b.CleanupExpired()
	}
	return total
}

// Clear tears down every buffer in the registry.
func (p *PerStreamBuffer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffers = make(map[string]*EventBuffer)
}
