package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
	"github.com/gyaneshwarpardhi/simgate/internal/statemachine"
)

// EntityView describes a live entity.
type EntityView struct {
	ID       uint64    `json:"id"`
	Template string    `json:"template,omitempty"`
	State    StateView `json:"state"`
}

// StateView is the externally visible state of an entity's machine.
type StateView struct {
	Current       string   `json:"current"`
	Previous      string   `json:"previous,omitempty"`
	EnteredAtTick uint64   `json:"entered_at_tick"`
	States        []string `json:"states"`
}

func viewOf(m *statemachine.Machine) StateView {
	return StateView{
		Current:       m.Current,
		Previous:      m.Previous,
		EnteredAtTick: m.EnteredAtTick,
		States:        m.StateNames(),
	}
}

func (ent *entity) view() EntityView {
	return EntityView{ID: ent.id, Template: ent.template, State: viewOf(ent.machine)}
}

// Spawn creates an entity from the named template, in its initial state
// at the current tick.
func (e *Engine) Spawn(ctx context.Context, templateID string) (EntityView, error) {
	tpl, ok := e.templates.Load().Template(templateID)
	if !ok {
		return EntityView{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	return run(ctx, e, func(w *world) (EntityView, error) {
		id := w.allocID()
		ent := &entity{
			id:       id,
			template: tpl.ID,
			machine:  statemachine.New(tpl.States, tpl.Initial, w.log.CurrentTick()),
		}
		w.entities[id] = ent
		w.log.Emit(EventEntitySpawned, map[string]any{
			"entity":   id,
			"template": tpl.ID,
			"state":    tpl.Initial,
		}, &id)
		return ent.view(), nil
	})
}

// Despawn removes an entity.
func (e *Engine) Despawn(ctx context.Context, id uint64) error {
	_, err := run(ctx, e, func(w *world) (struct{}, error) {
		ent, err := w.lookup(id)
		if err != nil {
			return struct{}{}, err
		}
		delete(w.entities, id)
		w.log.Emit(EventEntityDespawned, map[string]any{
			"entity": id,
			"state":  ent.machine.Current,
		}, &id)
		return struct{}{}, nil
	})
	return err
}

// Transition asks entity id's machine to move to target at the current
// tick. Lifecycle events land in the event log.
func (e *Engine) Transition(ctx context.Context, id uint64, target string) (StateView, error) {
	return run(ctx, e, func(w *world) (StateView, error) {
		ent, err := w.lookup(id)
		if err != nil {
			return StateView{}, err
		}
		before := ent.machine.Current
		err = ent.machine.Transition(id, target, w.log.CurrentTick(), w.log)
		metrics.Transitions.WithLabelValues(transitionResult(before, target, err)).Inc()
		if err != nil {
			return StateView{}, err
		}
		return viewOf(ent.machine), nil
	})
}

func transitionResult(before, target string, err error) string {
	switch {
	case errors.Is(err, statemachine.ErrTransitionDenied):
		return "denied"
	case errors.Is(err, statemachine.ErrUnknownState):
		return "unknown_state"
	case err != nil:
		return "error"
	case before == target:
		return "noop"
	}
	return "ok"
}

// State returns entity id's current state.
func (e *Engine) State(ctx context.Context, id uint64) (StateView, error) {
	return run(ctx, e, func(w *world) (StateView, error) {
		ent, err := w.lookup(id)
		if err != nil {
			return StateView{}, err
		}
		return viewOf(ent.machine), nil
	})
}

// Machine returns a copy of entity id's full machine, suitable for Restore.
func (e *Engine) Machine(ctx context.Context, id uint64) (*statemachine.Machine, error) {
	return run(ctx, e, func(w *world) (*statemachine.Machine, error) {
		ent, err := w.lookup(id)
		if err != nil {
			return nil, err
		}
		return ent.machine.Clone(), nil
	})
}

// Restore installs m as entity id's machine, creating the entity if it does
// not exist. No events are emitted.
func (e *Engine) Restore(ctx context.Context, id uint64, m *statemachine.Machine) (EntityView, error) {
	if id == 0 {
		return EntityView{}, fmt.Errorf("%w: entity id must be positive", ErrInvalid)
	}
	if m == nil || len(m.States) == 0 {
		return EntityView{}, fmt.Errorf("%w: machine has no states", ErrInvalid)
	}
	if _, ok := m.States[m.Current]; !ok {
		return EntityView{}, fmt.Errorf("%w: current state %q: %w", ErrInvalid, m.Current, statemachine.ErrUnknownState)
	}
	snapshot := m.Clone()
	return run(ctx, e, func(w *world) (EntityView, error) {
		ent, ok := w.entities[id]
		if !ok {
			ent = &entity{id: id}
			w.entities[id] = ent
		}
		ent.machine = snapshot
		w.reserveID(id)
		return ent.view(), nil
	})
}

// Entities lists live entities ordered by id.
func (e *Engine) Entities(ctx context.Context) ([]EntityView, error) {
	return run(ctx, e, func(w *world) ([]EntityView, error) {
		out := make([]EntityView, 0, len(w.entities))
		for _, ent := range w.entities {
			out = append(out, ent.view())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}
