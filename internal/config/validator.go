package config

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the config for:
//   - Missing version and non-positive engine settings
//   - No templates, or missing or duplicate template IDs
//   - Initial states and allow-list targets that are not defined
//   - Empty state names
func Validate(cfg *MachineConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Engine.TickHz < 0 {
		errs = append(errs, fmt.Sprintf("engine: tick_hz must not be negative, got %d", cfg.Engine.TickHz))
	}
	if cfg.Engine.TickHz > MaxTickHz {
		errs = append(errs, fmt.Sprintf("engine: tick_hz must be at most %d, got %d", MaxTickHz, cfg.Engine.TickHz))
	}
	if cfg.Engine.QueueDepth < 1 {
		errs = append(errs, fmt.Sprintf("engine: queue_depth must be positive, got %d", cfg.Engine.QueueDepth))
	}
	if cfg.Engine.CommandTimeoutMs < 1 {
		errs = append(errs, fmt.Sprintf("engine: command_timeout_ms must be positive, got %d", cfg.Engine.CommandTimeoutMs))
	}

	if len(cfg.Machines) == 0 {
		errs = append(errs, "machines: at least one template is required")
	}

	seen := make(map[string]int) // id → index
	for i, m := range cfg.Machines {
		if m.ID == "" {
			errs = append(errs, fmt.Sprintf("machines[%d]: id is required", i))
			continue
		}
		if prev, ok := seen[m.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate id %q (machines[%d] and machines[%d])", m.ID, prev, i))
			continue
		}
		seen[m.ID] = i
		validateTemplate(m, &errs)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateTemplate(m MachineTemplate, errs *[]string) {
	loc := fmt.Sprintf("machine %s", m.ID)
	if len(m.States) == 0 {
		*errs = append(*errs, fmt.Sprintf("%s: states must not be empty", loc))
		return
	}
	if m.Initial == "" {
		*errs = append(*errs, fmt.Sprintf("%s: initial is required", loc))
	} else if _, ok := m.States[m.Initial]; !ok {
		*errs = append(*errs, fmt.Sprintf("%s: initial state %q is not defined", loc, m.Initial))
	}

	// Sorted so error output is stable.
	names := make([]string, 0, len(m.States))
	for name := range m.States {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			*errs = append(*errs, fmt.Sprintf("%s: state name must not be blank", loc))
			continue
		}
		for _, target := range m.States[name].AllowedTransitions {
			if _, ok := m.States[target]; !ok {
				*errs = append(*errs, fmt.Sprintf("%s: state %s allows undefined target %q", loc, name, target))
			}
		}
	}
}
