// Package event implements the bounded, drop-oldest event log that the
// simulation writes into and observers read from.
//
// A Log has no internal locking. It is owned by exactly one writer per
// simulation step; in this server that is the engine's command queue.
package event

import (
	"log/slog"
	"math"
)

const (
	// Capacity is the maximum number of events a Log retains.
	Capacity = 500

	// noticeIntervalTicks is the minimum tick distance between two overflow notices.
	noticeIntervalTicks = 60
)

// Log is an append-only, capacity-bounded sequence of Events.
type Log struct {
	events   *ring
	capacity int
	tick     uint64
	dropped  uint64
	nextSeq  uint64

	logger          *slog.Logger
	noticed         bool
	lastNoticeTick  uint64
	droppedAtNotice uint64
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used for overflow notices.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

// WithCapacity overrides Capacity. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(lg *Log) {
		if n > 0 {
			lg.capacity = n
		}
	}
}

// WithStartTick starts the tick counter at t instead of 0.
func WithStartTick(t uint64) Option {
	return func(lg *Log) { lg.tick = t }
}

// NewLog creates an empty Log.
func NewLog(opts ...Option) *Log {
	l := &Log{capacity: Capacity, nextSeq: 1}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.events = newRing(l.capacity + 1)
	return l
}

// Emit appends an event stamped with the current tick. When the log grows
// past its capacity the oldest entries are evicted and counted as dropped.
func (l *Log) Emit(name string, data any, source *uint64) {
	l.events.pushBack(Event{
		Seq:          l.nextSeq,
		Name:         name,
		Data:         data,
		Tick:         l.tick,
		SourceEntity: source,
	})
	l.nextSeq++

	excess := l.events.len() - l.capacity
	if excess <= 0 {
		return
	}
	for i := 0; i < excess; i++ {
		l.events.popFront()
	}
	l.dropped = saturatingAdd(l.dropped, uint64(excess))
	l.maybeNotice()
}

func (l *Log) maybeNotice() {
	if l.noticed && l.tick-l.lastNoticeTick < noticeIntervalTicks {
		return
	}
	l.logger.Warn("event log overflow",
		"dropped_since_notice", l.dropped-l.droppedAtNotice,
		"dropped_total", l.dropped,
		"tick", l.tick,
	)
	l.noticed = true
	l.lastNoticeTick = l.tick
	l.droppedAtNotice = l.dropped
}

// Tick advances the logical tick by one, saturating at the maximum.
func (l *Log) Tick() {
	l.tick = saturatingAdd(l.tick, 1)
}

// CurrentTick returns the logical tick.
func (l *Log) CurrentTick() uint64 { return l.tick }

// Dropped returns the total number of evicted events.
func (l *Log) Dropped() uint64 { return l.dropped }

// Len returns the number of retained events.
func (l *Log) Len() int { return l.events.len() }

// Cap returns the retention capacity.
func (l *Log) Cap() int { return l.capacity }

// LastSeq returns the sequence number of the most recent emission, or 0.
func (l *Log) LastSeq() uint64 { return l.nextSeq - 1 }

// OldestSeq returns the sequence number of the oldest retained event, or 0
// when the log is empty.
func (l *Log) OldestSeq() uint64 {
	if l.events.len() == 0 {
		return 0
	}
	return l.events.at(0).Seq
}

// Snapshot returns a copy of the retained events, oldest first.
func (l *Log) Snapshot() []Event {
	out := make([]Event, l.events.len())
	for i := range out {
		out[i] = l.events.at(i)
	}
	return out
}

// After returns retained events with Seq greater than seq, oldest first.
func (l *Log) After(seq uint64) []Event {
	n := l.events.len()
	if n == 0 || seq >= l.LastSeq() {
		return nil
	}
	// Seqs are contiguous within the ring and seq < last, so the offset
	// fits in an int.
	start := 0
	if oldest := l.events.at(0).Seq; seq >= oldest {
		start = int(seq-oldest) + 1
	}
	out := make([]Event, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, l.events.at(i))
	}
	return out
}

// Drain returns the retained events and empties the log. Tick and the
// dropped counter are left untouched.
func (l *Log) Drain() []Event {
	out := l.Snapshot()
	l.events.reset()
	return out
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
