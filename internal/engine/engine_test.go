package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/gyaneshwarpardhi/simgate/internal/config"
	"github.com/gyaneshwarpardhi/simgate/internal/engine"
	"github.com/gyaneshwarpardhi/simgate/internal/event"
	"github.com/gyaneshwarpardhi/simgate/internal/filter"
	"github.com/gyaneshwarpardhi/simgate/internal/statemachine"
)

func testConfig() *config.MachineConfig {
	return &config.MachineConfig{
		Version: "v1",
		Engine:  config.EngineConf{ManualStep: true, QueueDepth: 64, CommandTimeoutMs: 2000},
		Machines: []config.MachineTemplate{{
			ID:      "goblin",
			Initial: "idle",
			States: map[string]statemachine.StateConfig{
				"idle":  {AllowedTransitions: []string{"chase"}},
				"chase": {AllowedTransitions: []string{"idle", "dead"}, OnEnterEvent: "goblin_alerted"},
				"dead":  {AllowedTransitions: []string{"dead"}, OnEnterEvent: "goblin_died"},
			},
		}},
	}
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(context.Background(), testConfig())
	t.Cleanup(e.Shutdown)
	return e
}

func names(evs []event.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func TestSpawnAndTransition(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	for i := 0; i < 3; i++ {
		if err := e.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	ent, err := e.Spawn(ctx, "goblin")
	if err != nil {
		t.Fatal(err)
	}
	if ent.ID != 1 || ent.State.Current != "idle" || ent.State.EnteredAtTick != 3 {
		t.Fatalf("spawned %+v", ent)
	}

	e.Step(ctx)
	view, err := e.Transition(ctx, ent.ID, "chase")
	if err != nil {
		t.Fatal(err)
	}
	if view.Current != "chase" || view.Previous != "idle" || view.EnteredAtTick != 4 {
		t.Errorf("after transition: %+v", view)
	}

	page, err := e.Events(ctx, engine.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"entity_spawned", "state_exit", "goblin_alerted", "state_enter"}
	if got := names(page.Events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	for _, ev := range page.Events[1:] {
		if ev.Tick != 4 || ev.SourceEntity == nil || *ev.SourceEntity != ent.ID {
			t.Errorf("event %+v not stamped with tick 4 / entity %d", ev, ent.ID)
		}
	}
	if page.Cursor != 4 || page.Tick != 4 || page.Gap {
		t.Errorf("page meta = cursor %d tick %d gap %v", page.Cursor, page.Tick, page.Gap)
	}
}

func TestTransitionErrors(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ent, _ := e.Spawn(ctx, "goblin")

	if _, err := e.Transition(ctx, ent.ID, "dead"); !errors.Is(err, statemachine.ErrTransitionDenied) {
		t.Errorf("idle -> dead: %v", err)
	}
	if _, err := e.Transition(ctx, ent.ID, "chase"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Transition(ctx, ent.ID, "ghost"); !errors.Is(err, statemachine.ErrTransitionDenied) {
		t.Errorf("chase -> ghost should be denied by the allow-list first: %v", err)
	}
	if _, err := e.Transition(ctx, 99, "chase"); !errors.Is(err, engine.ErrEntityNotFound) {
		t.Errorf("missing entity: %v", err)
	}
	if _, err := e.Spawn(ctx, "dragon"); !errors.Is(err, engine.ErrUnknownTemplate) {
		t.Errorf("unknown template: %v", err)
	}

	st, _ := e.State(ctx, ent.ID)
	if st.Current != "chase" {
		t.Errorf("failed transitions mutated state: %+v", st)
	}
}

func TestTransitionToSelfIsSilent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ent, _ := e.Spawn(ctx, "goblin")
	before, _ := e.Stats(ctx)

	if _, err := e.Transition(ctx, ent.ID, "idle"); err != nil {
		t.Fatal(err)
	}
	after, _ := e.Stats(ctx)
	if after.LastSeq != before.LastSeq {
		t.Errorf("no-op transition emitted events: %d -> %d", before.LastSeq, after.LastSeq)
	}
}

func TestEventsCursorAndGap(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	for i := 0; i < event.Capacity+10; i++ {
		if _, err := e.Emit(ctx, "ping", i, nil); err != nil {
			t.Fatal(err)
		}
	}

	page, err := e.Events(ctx, engine.EventQuery{After: 5, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !page.Gap {
		t.Error("expected gap: seqs 6..10 were evicted")
	}
	if len(page.Events) != 3 || page.Events[0].Seq != 11 || page.Cursor != 13 {
		t.Errorf("page = %d events from %d, cursor %d", len(page.Events), page.Events[0].Seq, page.Cursor)
	}
	if page.Dropped != 10 {
		t.Errorf("dropped = %d", page.Dropped)
	}

	page, _ = e.Events(ctx, engine.EventQuery{After: page.Cursor})
	if page.Gap || len(page.Events) != event.Capacity-3 {
		t.Errorf("follow-up: gap %v, %d events", page.Gap, len(page.Events))
	}

	page, _ = e.Events(ctx, engine.EventQuery{After: page.Cursor})
	if len(page.Events) != 0 || page.Events == nil {
		t.Errorf("caught-up read returned %v", page.Events)
	}
}

func TestEventsFilter(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a, _ := e.Spawn(ctx, "goblin")
	b, _ := e.Spawn(ctx, "goblin")
	e.Transition(ctx, a.ID, "chase")
	e.Transition(ctx, b.ID, "chase")
	e.Transition(ctx, b.ID, "dead")

	f, err := filter.Compile(`name == "state_enter" AND data.state == "dead"`)
	if err != nil {
		t.Fatal(err)
	}
	page, err := e.Events(ctx, engine.EventQuery{Filter: f})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 1 || *page.Events[0].SourceEntity != b.ID {
		t.Fatalf("filtered = %+v", page.Events)
	}
	stats, _ := e.Stats(ctx)
	if page.Cursor != stats.LastSeq {
		t.Errorf("cursor %d should skip past filtered-out events to %d", page.Cursor, stats.LastSeq)
	}
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.Emit(ctx, "a", nil, nil)
	e.Emit(ctx, "b", nil, nil)
	e.Step(ctx)

	evs, err := e.Drain(ctx)
	if err != nil || len(evs) != 2 {
		t.Fatalf("Drain = %v, %v", evs, err)
	}
	stats, _ := e.Stats(ctx)
	if stats.Events != 0 || stats.Tick != 1 || stats.LastSeq != 2 {
		t.Errorf("stats after drain: %+v", stats)
	}

	page, _ := e.Events(ctx, engine.EventQuery{After: 0})
	if !page.Gap {
		t.Error("an observer that never saw the drained events should see a gap")
	}
	page, _ = e.Events(ctx, engine.EventQuery{After: 2})
	if page.Gap {
		t.Error("an observer that saw everything should not see a gap")
	}
}

func TestDespawn(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ent, _ := e.Spawn(ctx, "goblin")

	if err := e.Despawn(ctx, ent.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.Despawn(ctx, ent.ID); !errors.Is(err, engine.ErrEntityNotFound) {
		t.Errorf("second despawn: %v", err)
	}
	list, _ := e.Entities(ctx)
	if len(list) != 0 {
		t.Errorf("entities = %+v", list)
	}
	page, _ := e.Events(ctx, engine.EventQuery{After: 1})
	if len(page.Events) != 1 || page.Events[0].Name != engine.EventEntityDespawned {
		t.Errorf("events = %v", names(page.Events))
	}
}

func TestMachineSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ent, _ := e.Spawn(ctx, "goblin")
	e.Step(ctx)
	e.Transition(ctx, ent.ID, "chase")

	snap, err := e.Machine(ctx, ent.ID)
	if err != nil {
		t.Fatal(err)
	}
	snap.States["chase"] = statemachine.StateConfig{AllowedTransitions: []string{"idle"}}

	other := newEngine(t)
	view, err := other.Restore(ctx, 42, snap)
	if err != nil {
		t.Fatal(err)
	}
	if view.State.Current != "chase" || view.State.Previous != "idle" || view.State.EnteredAtTick != 1 {
		t.Errorf("restored view = %+v", view)
	}
	if _, err := other.Transition(ctx, 42, "dead"); !errors.Is(err, statemachine.ErrTransitionDenied) {
		t.Errorf("restored graph not in effect: %v", err)
	}
	next, _ := other.Spawn(ctx, "goblin")
	if next.ID != 43 {
		t.Errorf("id after restore = %d, want 43", next.ID)
	}

	if _, err := other.Restore(ctx, 7, &statemachine.Machine{Current: "x", States: map[string]statemachine.StateConfig{"y": {}}}); err == nil {
		t.Error("restore into undefined current state should fail")
	}
	if _, err := e.Transition(ctx, ent.ID, "dead"); err != nil {
		t.Errorf("editing the snapshot changed the live machine: %v", err)
	}
}

func TestRestoreAtMaxIDKeepsAllocatorSafe(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	first, _ := e.Spawn(ctx, "goblin")
	if _, err := e.Transition(ctx, first.ID, "chase"); err != nil {
		t.Fatal(err)
	}

	snap, err := e.Machine(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Restore(ctx, math.MaxUint64, snap); err != nil {
		t.Fatal(err)
	}

	seen := map[uint64]bool{first.ID: true, math.MaxUint64: true}
	for i := 0; i < 2; i++ {
		ent, err := e.Spawn(ctx, "goblin")
		if err != nil {
			t.Fatal(err)
		}
		if ent.ID == 0 || seen[ent.ID] {
			t.Fatalf("spawn %d reused or zero id %d", i, ent.ID)
		}
		seen[ent.ID] = true
	}

	st, err := e.State(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current != "chase" {
		t.Errorf("entity %d state = %q, want chase", first.ID, st.Current)
	}
	list, _ := e.Entities(ctx)
	if len(list) != 4 {
		t.Errorf("live entities = %d, want 4", len(list))
	}
}

func TestSwapTemplatesKeepsLiveEntities(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	ent, _ := e.Spawn(ctx, "goblin")

	cfg := testConfig()
	cfg.Machines[0].States["idle"] = statemachine.StateConfig{AllowedTransitions: []string{"dead"}}
	e.SwapTemplates(cfg)

	if _, err := e.Transition(ctx, ent.ID, "dead"); !errors.Is(err, statemachine.ErrTransitionDenied) {
		t.Errorf("live entity picked up the new graph: %v", err)
	}
	fresh, _ := e.Spawn(ctx, "goblin")
	if _, err := e.Transition(ctx, fresh.ID, "dead"); err != nil {
		t.Errorf("new entity should use the new graph: %v", err)
	}
}

func TestConcurrentCommandsSerialize(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				for {
					_, err := e.Emit(ctx, "hit", j, nil)
					if errors.Is(err, engine.ErrQueueFull) {
						continue
					}
					if err != nil {
						t.Error(err)
					}
					break
				}
			}
		}()
	}
	wg.Wait()

	page, _ := e.Events(ctx, engine.EventQuery{})
	if len(page.Events) != 320 {
		t.Fatalf("got %d events", len(page.Events))
	}
	for i, ev := range page.Events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("seq %d at index %d", ev.Seq, i)
		}
	}
}

func TestShutdownRejectsCommands(t *testing.T) {
	e := engine.New(context.Background(), testConfig())
	e.Shutdown()
	if _, err := e.Emit(context.Background(), "late", nil, nil); !errors.Is(err, engine.ErrQueueFull) {
		t.Errorf("emit after shutdown: %v", err)
	}
}
