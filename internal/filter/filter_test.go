package filter

import (
	"testing"

	"github.com/gyaneshwarpardhi/simgate/internal/event"
)

func enterEvent(entity uint64, state string, tick uint64) event.Event {
	return event.Event{
		Seq:          tick + 1,
		Name:         "state_enter",
		Tick:         tick,
		SourceEntity: event.Entity(entity),
		Data: map[string]any{
			"entity":   entity,
			"state":    state,
			"previous": "idle",
			"stats":    map[string]any{"hp": float64(0)},
		},
	}
}

func TestMatch(t *testing.T) {
	ev := enterEvent(7, "dead", 120)
	anon := event.Event{Seq: 1, Name: "weather_changed", Data: "rain"}

	cases := []struct {
		name string
		expr string
		ev   event.Event
		want bool
	}{
		{"name eq", `name == "state_enter"`, ev, true},
		{"name neq", `name != "state_enter"`, ev, false},
		{"data field", `data.state == 'dead'`, ev, true},
		{"nested data", `data.stats.hp <= 0`, ev, true},
		{"numeric source", `source_entity == 7`, ev, true},
		{"uint tick gte", `tick >= 100`, ev, true},
		{"tick lt", `tick < 100`, ev, false},
		{"and", `name == "state_enter" AND data.state == "dead"`, ev, true},
		{"or short", `data.state == "alive" OR source_entity == 7`, ev, true},
		{"not", `NOT data.state == "dead"`, ev, false},
		{"parens", `(tick > 500 OR seq == 121) AND name contains "enter"`, ev, true},
		{"matches", `name matches "^state_(enter|exit)$"`, ev, true},
		{"case-insensitive keywords", `name == "state_enter" and not tick < 1`, ev, true},
		{"missing data field", `data.missing == "x"`, ev, false},
		{"missing source", `source_entity == 0`, anon, false},
		{"not missing source", `NOT source_entity == 0`, anon, true},
		{"scalar data", `data contains "ai"`, anon, true},
		{"type mismatch is false", `data.state > 3`, ev, false},
		{"bool literal", `data.flag == true`, event.Event{Data: map[string]any{"flag": true}}, true},
		{"escaped quote", `data.say == "a\"b"`, event.Event{Data: map[string]any{"say": `a"b`}}, true},
		{"negative number", `data.dx < -1.5`, event.Event{Data: map[string]any{"dx": -2}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(tc.expr)
			if err != nil {
				t.Fatalf("Compile(%q): %v", tc.expr, err)
			}
			if got := f.Match(&tc.ev); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, expr := range []string{
		`name ==`,
		`name = "x"`,
		`(name == "x"`,
		`nope == 1`,
		`tick.x == 1`,
		`name == "unterminated`,
		`name matches "("`,
		`name == "a" extra`,
		`name # 1`,
	} {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) succeeded, want error", expr)
		}
	}
}

func TestCompile_EmptyMatchesAll(t *testing.T) {
	f, err := Compile("   ")
	if err != nil || f != nil {
		t.Fatalf("Compile(blank) = %v, %v", f, err)
	}
	events := []event.Event{{Name: "a"}, {Name: "b"}}
	if got := f.Apply(events); len(got) != 2 {
		t.Errorf("nil filter dropped events: %v", got)
	}
}

func TestApply_PreservesOrder(t *testing.T) {
	f, err := Compile(`data.state == "dead"`)
	if err != nil {
		t.Fatal(err)
	}
	events := []event.Event{
		enterEvent(1, "dead", 1),
		enterEvent(2, "alive", 2),
		enterEvent(3, "dead", 3),
	}
	got := f.Apply(events)
	if len(got) != 2 || *got[0].SourceEntity != 1 || *got[1].SourceEntity != 3 {
		t.Errorf("Apply = %+v", got)
	}
	if len(events) != 3 || *events[1].SourceEntity != 2 {
		t.Error("Apply modified its input")
	}
}
