// Package engine owns the simulation world: the event log and every
// entity's state machine. All reads and writes go through one command
// queue served by a single worker, which is what gives the log and the
// machines their single-writer-per-step guarantee.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/simgate/internal/config"
	"github.com/gyaneshwarpardhi/simgate/internal/event"
	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
)

var (
	ErrQueueFull       = errors.New("command queue full")
	ErrTimeout         = errors.New("command timed out")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrUnknownTemplate = errors.New("unknown machine template")
	ErrInvalid         = errors.New("invalid request")
)

// Engine serializes every operation on the world through its command queue.
type Engine struct {
	templates atomic.Pointer[config.MachineConfig]
	pool      *workerPool[*command]
	world     *world
	conf      config.EngineConf
	logger    *slog.Logger

	stopTicker chan struct{}
	tickerDone chan struct{}
}

type command struct {
	ctx       context.Context
	fn        func(w *world)
	done      chan struct{}
	submitted time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine and event log logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine from cfg and starts its worker and, unless
// cfg.Engine.ManualStep is set, its tick loop.
func New(ctx context.Context, cfg *config.MachineConfig, opts ...Option) *Engine {
	e := &Engine{conf: cfg.Engine}
	if e.conf.QueueDepth <= 0 {
		e.conf.QueueDepth = config.DefaultQueueDepth
	}
	if e.conf.CommandTimeoutMs <= 0 {
		e.conf.CommandTimeoutMs = config.DefaultCommandTimeoutMs
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.conf.TickHz > config.MaxTickHz {
		e.logger.Warn("tick_hz above ceiling, clamping", "tick_hz", e.conf.TickHz, "max", config.MaxTickHz)
		e.conf.TickHz = config.MaxTickHz
	}
	e.templates.Store(cfg)
	e.world = newWorld(event.NewLog(event.WithLogger(e.logger)))

	e.pool = newWorkerPool[*command](ctx, 1, e.conf.QueueDepth, func(_ context.Context, c *command) {
		e.execute(c)
	})

	if !e.conf.ManualStep && e.conf.TickHz > 0 {
		e.stopTicker = make(chan struct{})
		e.tickerDone = make(chan struct{})
		go e.tickLoop(ctx, time.Second/time.Duration(e.conf.TickHz))
	}
	return e
}

// SwapTemplates atomically replaces the machine templates (used on
// hot-reload). Live entities keep the states they were spawned with.
func (e *Engine) SwapTemplates(cfg *config.MachineConfig) {
	e.templates.Store(cfg)
}

// Templates returns the current template configuration.
func (e *Engine) Templates() *config.MachineConfig {
	return e.templates.Load()
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// Step runs one simulation step and waits for it.
func (e *Engine) Step(ctx context.Context) error {
	_, err := run(ctx, e, func(w *world) (struct{}, error) {
		w.step()
		return struct{}{}, nil
	})
	return err
}

func (e *Engine) tickLoop(ctx context.Context, interval time.Duration) {
	defer close(e.tickerDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c := &command{
				ctx:       context.Background(),
				fn:        (*world).step,
				done:      make(chan struct{}),
				submitted: time.Now(),
			}
			if !e.pool.Submit(c) {
				metrics.StepsSkipped.Inc()
			}
		case <-e.stopTicker:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the tick loop and drains queued commands.
func (e *Engine) Shutdown() {
	if e.stopTicker != nil {
		close(e.stopTicker)
		<-e.tickerDone
		e.stopTicker = nil
	}
	e.pool.Drain()
}

func (e *Engine) execute(c *command) {
	defer close(c.done)
	// The caller already gave up; do not apply a command it reported as failed.
	if c.ctx.Err() != nil {
		return
	}
	c.fn(e.world)
	e.world.publishMetrics()
	metrics.QueueUtilization.Set(e.QueueUtilization())
	metrics.CommandDuration.Observe(float64(time.Since(c.submitted).Microseconds()) / 1000)
}

// run submits fn to the command queue and waits for its result, bounded by
// ctx and the configured command timeout.
func run[R any](ctx context.Context, e *Engine, fn func(w *world) (R, error)) (R, error) {
	var zero R
	timeout := time.Duration(e.conf.CommandTimeoutMs) * time.Millisecond
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		res R
		err error
		ran bool
	)
	c := &command{
		ctx: cctx,
		fn: func(w *world) {
			ran = true
			res, err = fn(w)
		},
		done:      make(chan struct{}),
		submitted: time.Now(),
	}
	if !e.pool.Submit(c) {
		return zero, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}

	select {
	case <-c.done:
		if !ran {
			// Skipped by the worker after the deadline passed.
			return zero, expired(ctx, timeout)
		}
		return res, err
	case <-cctx.Done():
		return zero, expired(ctx, timeout)
	}
}

func expired(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %v", ErrTimeout, timeout)
}
