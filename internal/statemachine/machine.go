// Package statemachine enforces per-entity transition graphs and emits
// lifecycle events around every committed transition.
//
// A Machine is not safe for concurrent use. Callers serialize Transition
// calls per entity.
package statemachine

import (
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Generic lifecycle event names emitted on every committed transition.
const (
	EventStateExit  = "state_exit"
	EventStateEnter = "state_enter"
)

// Emitter receives the lifecycle events of a transition. *event.Log satisfies it.
type Emitter interface {
	Emit(name string, data any, source *uint64)
}

// StateConfig describes one node of the transition graph.
// An empty AllowedTransitions list permits a transition to any defined state.
type StateConfig struct {
	AllowedTransitions []string `json:"allowed_transitions" yaml:"allowed_transitions"`
	OnEnterEvent       string   `json:"on_enter_event,omitempty" yaml:"on_enter_event,omitempty"`
	OnExitEvent        string   `json:"on_exit_event,omitempty" yaml:"on_exit_event,omitempty"`
}

// Allows reports whether the allow-list admits target. It does not check
// that target is defined.
func (c StateConfig) Allows(target string) bool {
	return len(c.AllowedTransitions) == 0 || slices.Contains(c.AllowedTransitions, target)
}

// Machine is the state of one entity. It serializes verbatim so snapshots
// can be restored by save, replay or replication collaborators.
type Machine struct {
	States        map[string]StateConfig `json:"states" yaml:"states"`
	Current       string                 `json:"current" yaml:"current"`
	Previous      string                 `json:"previous,omitempty" yaml:"previous,omitempty"`
	EnteredAtTick uint64                 `json:"entered_at_tick" yaml:"entered_at_tick"`
}

// New builds a machine in initial at tick. The states map is copied so the
// machine owns its graph.
func New(states map[string]StateConfig, initial string, tick uint64) *Machine {
	return &Machine{
		States:        cloneStates(states),
		Current:       initial,
		EnteredAtTick: tick,
	}
}

// Clone returns a deep copy of m.
func (m *Machine) Clone() *Machine {
	c := *m
	c.States = cloneStates(m.States)
	return &c
}

// StateNames returns the defined state names in sorted order.
func (m *Machine) StateNames() []string {
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transition moves the machine to target at tick on behalf of entity.
//
// Events go to sink in a fixed order: the current state's exit event,
// state_exit, then after the commit the target's enter event and
// state_enter. On error nothing is mutated and nothing is emitted.
// Transitioning to the current state is a successful no-op.
func (m *Machine) Transition(entity uint64, target string, tick uint64, sink Emitter) error {
	if target == m.Current {
		return nil
	}
	from, hasFrom := m.States[m.Current]
	if hasFrom && !from.Allows(target) {
		return fmt.Errorf("%w: %q -> %q", ErrTransitionDenied, m.Current, target)
	}
	to, ok := m.States[target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, target)
	}

	source := &entity
	exit := map[string]any{"entity": entity, "state": m.Current, "next": target}
	if hasFrom && from.OnExitEvent != "" {
		sink.Emit(from.OnExitEvent, exit, source)
	}
	sink.Emit(EventStateExit, exit, source)

	m.Previous = m.Current
	m.Current = target
	m.EnteredAtTick = tick

	enter := map[string]any{"entity": entity, "state": target, "previous": m.Previous}
	if to.OnEnterEvent != "" {
		sink.Emit(to.OnEnterEvent, enter, source)
	}
	sink.Emit(EventStateEnter, enter, source)
	return nil
}

func cloneStates(states map[string]StateConfig) map[string]StateConfig {
	out := maps.Clone(states)
	if out == nil {
		out = make(map[string]StateConfig)
	}
	for name, cfg := range out {
		cfg.AllowedTransitions = slices.Clone(cfg.AllowedTransitions)
		out[name] = cfg
	}
	return out
}
