package config

import "github.com/gyaneshwarpardhi/simgate/internal/statemachine"

// Engine defaults applied by Parse when a field is omitted.
const (
	DefaultTickHz           = 60
	DefaultQueueDepth       = 1024
	DefaultCommandTimeoutMs = 5000
)

// MaxTickHz is the fastest automatic tick rate the engine accepts.
const MaxTickHz = 1000

// MachineConfig is the top-level YAML structure.
type MachineConfig struct {
	Version  string            `yaml:"version"`
	Engine   EngineConf        `yaml:"engine"`
	Machines []MachineTemplate `yaml:"machines"`
}

// EngineConf holds simulation loop and command queue settings.
type EngineConf struct {
	TickHz           int  `yaml:"tick_hz"`
	ManualStep       bool `yaml:"manual_step"` // no ticker; steps only via Engine.Step
	QueueDepth       int  `yaml:"queue_depth"`
	CommandTimeoutMs int  `yaml:"command_timeout_ms"`
}

// MachineTemplate is a named transition graph that entities are spawned from.
type MachineTemplate struct {
	ID          string                              `yaml:"id" json:"id"`
	Description string                              `yaml:"description" json:"description,omitempty"`
	Initial     string                              `yaml:"initial" json:"initial"`
	States      map[string]statemachine.StateConfig `yaml:"states" json:"states"`
}

// Template returns the template with the given id.
func (c *MachineConfig) Template(id string) (MachineTemplate, bool) {
	for _, t := range c.Machines {
		if t.ID == id {
			return t, true
		}
	}
	return MachineTemplate{}, false
}
