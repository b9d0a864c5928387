package engine

import (
	"math"

	"github.com/gyaneshwarpardhi/simgate/internal/event"
	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
	"github.com/gyaneshwarpardhi/simgate/internal/statemachine"
)

// Event names the engine itself emits.
const (
	EventEntitySpawned   = "entity_spawned"
	EventEntityDespawned = "entity_despawned"
)

// world is everything the command worker owns. Only code running inside a
// command may touch it.
type world struct {
	log      *event.Log
	entities map[uint64]*entity
	nextID   uint64 // next allocation candidate, never 0

	// counters already published to prometheus
	seenSeq     uint64
	seenDropped uint64
}

type entity struct {
	id       uint64
	template string
	machine  *statemachine.Machine
}

func newWorld(log *event.Log) *world {
	return &world{
		log:      log,
		entities: make(map[uint64]*entity),
		nextID:   1,
	}
}

// allocID hands out the first free id at or after nextID. Allocation wraps
// past MaxUint64 back to 1, skipping ids held by live entities.
func (w *world) allocID() uint64 {
	for {
		id := w.nextID
		w.nextID = successor(id)
		if _, taken := w.entities[id]; !taken {
			return id
		}
	}
}

// reserveID keeps future allocations past an explicitly chosen id.
func (w *world) reserveID(id uint64) {
	if id >= w.nextID {
		w.nextID = successor(id)
	}
}

func successor(id uint64) uint64 {
	if id == math.MaxUint64 {
		return 1
	}
	return id + 1
}

// step advances the simulation by one tick.
func (w *world) step() {
	w.log.Tick()
}

func (w *world) lookup(id uint64) (*entity, error) {
	ent, ok := w.entities[id]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return ent, nil
}

func (w *world) publishMetrics() {
	if seq := w.log.LastSeq(); seq > w.seenSeq {
		metrics.EventsEmitted.Add(float64(seq - w.seenSeq))
		w.seenSeq = seq
	}
	if d := w.log.Dropped(); d > w.seenDropped {
		metrics.EventsDropped.Add(float64(d - w.seenDropped))
		w.seenDropped = d
	}
	metrics.EventLogLength.Set(float64(w.log.Len()))
	metrics.SimulationTick.Set(float64(w.log.CurrentTick()))
	metrics.Entities.Set(float64(len(w.entities)))
}
