package engine

import (
	"context"
	"fmt"

	"github.com/gyaneshwarpardhi/simgate/internal/event"
	"github.com/gyaneshwarpardhi/simgate/internal/filter"
)

// EventQuery selects events for an observer.
type EventQuery struct {
	// After is the last Seq the observer has seen; 0 reads from the oldest.
	After uint64
	// Limit caps the number of returned events; 0 means no cap.
	Limit  int
	Filter *filter.Filter
}

// EventPage is one read of the log.
type EventPage struct {
	Events  []event.Event `json:"events"`
	Cursor  uint64        `json:"cursor"`
	Tick    uint64        `json:"tick"`
	Dropped uint64        `json:"dropped"`
	// Gap is set when events after the query cursor were evicted before
	// this read.
	Gap bool `json:"gap"`
}

// Stats is a point-in-time summary of the world.
type Stats struct {
	Tick             uint64  `json:"tick"`
	Events           int     `json:"events"`
	EventCapacity    int     `json:"event_capacity"`
	Dropped          uint64  `json:"dropped"`
	LastSeq          uint64  `json:"last_seq"`
	Entities         int     `json:"entities"`
	QueueUtilization float64 `json:"queue_utilization"`
}

type readResult struct {
	events  []event.Event
	tick    uint64
	dropped uint64
	oldest  uint64
	last    uint64
}

// Events reads the log without consuming it.
func (e *Engine) Events(ctx context.Context, q EventQuery) (EventPage, error) {
	if q.Limit < 0 {
		return EventPage{}, fmt.Errorf("%w: limit must not be negative", ErrInvalid)
	}
	r, err := run(ctx, e, func(w *world) (readResult, error) {
		return readResult{
			events:  w.log.After(q.After),
			tick:    w.log.CurrentTick(),
			dropped: w.log.Dropped(),
			oldest:  w.log.OldestSeq(),
			last:    w.log.LastSeq(),
		}, nil
	})
	if err != nil {
		return EventPage{}, err
	}

	page := EventPage{
		Tick:    r.tick,
		Dropped: r.dropped,
		Cursor:  r.last,
		Gap:     hasGap(q.After, r.oldest, r.last),
	}
	if q.After > r.last {
		page.Cursor = q.After
	}

	// Filtering runs outside the worker; the copies are ours.
	evs := q.Filter.Apply(r.events)
	if q.Limit > 0 && len(evs) > q.Limit {
		evs = evs[:q.Limit]
		page.Cursor = evs[len(evs)-1].Seq
	}
	if evs == nil {
		evs = []event.Event{}
	}
	page.Events = evs
	return page, nil
}

// hasGap reports whether seqs in (after, oldest) were evicted. An empty log
// counts as starting at last+1.
func hasGap(after, oldest, last uint64) bool {
	if oldest == 0 {
		oldest = last + 1
	}
	return oldest > 0 && after < oldest-1
}

// Emit appends an event on behalf of an external producer.
func (e *Engine) Emit(ctx context.Context, name string, data any, source *uint64) (uint64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: event name is required", ErrInvalid)
	}
	return run(ctx, e, func(w *world) (uint64, error) {
		w.log.Emit(name, data, source)
		return w.log.LastSeq(), nil
	})
}

// Drain removes and returns every retained event.
func (e *Engine) Drain(ctx context.Context) ([]event.Event, error) {
	return run(ctx, e, func(w *world) ([]event.Event, error) {
		return w.log.Drain(), nil
	})
}

// Stats returns a summary of the log and registry.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	s, err := run(ctx, e, func(w *world) (Stats, error) {
		return Stats{
			Tick:          w.log.CurrentTick(),
			Events:        w.log.Len(),
			EventCapacity: w.log.Cap(),
			Dropped:       w.log.Dropped(),
			LastSeq:       w.log.LastSeq(),
			Entities:      len(w.entities),
		}, nil
	})
	s.QueueUtilization = e.QueueUtilization()
	return s, err
}
