package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_events_emitted_total",
		Help: "Total number of events appended to the event log.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_events_dropped_total",
		Help: "Total number of events evicted from the event log on overflow.",
	})

	EventLogLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_event_log_length",
		Help: "Number of events currently retained by the event log.",
	})

	SimulationTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_simulation_tick",
		Help: "Current logical simulation tick.",
	})

	StepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simgate_steps_skipped_total",
		Help: "Simulation steps not run because the command queue was full.",
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_transitions_total",
		Help: "State transitions attempted, labelled by result.",
	}, []string{"result"})

	Entities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_entities",
		Help: "Number of live entities with a state machine.",
	})

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simgate_gate_decisions_total",
		Help: "Admission gate outcomes, labelled by decision.",
	}, []string{"decision"})

	GateBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_gate_buckets",
		Help: "Number of client keys tracked by the rate limiter.",
	})

	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "simgate_command_duration_ms",
		Help:    "Time from command submission to completion in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_queue_utilization_ratio",
		Help: "Current command queue utilization (0–1).",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simgate_stream_subscribers",
		Help: "Open event stream connections.",
	})
)
