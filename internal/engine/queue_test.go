package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/simgate/internal/config"
)

// blockWorker parks the single worker until the returned func is called.
func blockWorker(t *testing.T, e *Engine) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	started := make(chan struct{})
	ok := e.pool.Submit(&command{
		ctx: context.Background(),
		fn: func(*world) {
			close(started)
			<-gate
		},
		done:      make(chan struct{}),
		submitted: time.Now(),
	})
	if !ok {
		t.Fatal("could not submit blocking command")
	}
	<-started
	return func() { close(gate) }
}

func TestQueueFull(t *testing.T) {
	e := New(context.Background(), &config.MachineConfig{
		Engine: config.EngineConf{ManualStep: true, QueueDepth: 2, CommandTimeoutMs: 1000},
	})
	defer e.Shutdown()
	release := blockWorker(t, e)

	for i := 0; i < 2; i++ {
		go e.Emit(context.Background(), "queued", nil, nil)
	}
	deadline := time.Now().Add(time.Second)
	for e.pool.QueueLen() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := e.QueueUtilization(); got != 1 {
		t.Errorf("utilization = %v, want 1", got)
	}

	if _, err := e.Emit(context.Background(), "overflow", nil, nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	release()
}

func TestTimedOutCommandIsNotApplied(t *testing.T) {
	e := New(context.Background(), &config.MachineConfig{
		Engine: config.EngineConf{ManualStep: true, QueueDepth: 4, CommandTimeoutMs: 20},
	})
	defer e.Shutdown()
	release := blockWorker(t, e)

	if _, err := e.Emit(context.Background(), "late", nil, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	release()

	stats, err := e.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.LastSeq != 0 {
		t.Errorf("timed-out emit was applied: last seq %d", stats.LastSeq)
	}
}

func TestCallerCancellation(t *testing.T) {
	e := New(context.Background(), &config.MachineConfig{
		Engine: config.EngineConf{ManualStep: true},
	})
	defer e.Shutdown()
	release := blockWorker(t, e)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.State(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTickerAdvancesTicks(t *testing.T) {
	e := New(context.Background(), &config.MachineConfig{
		Engine: config.EngineConf{TickHz: 200},
	})
	defer e.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, err := e.Stats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if s.Tick >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ticker did not advance the tick")
}

func TestTickRateClampedToCeiling(t *testing.T) {
	e := New(context.Background(), &config.MachineConfig{
		Engine: config.EngineConf{TickHz: 2_000_000_000},
	})
	defer e.Shutdown()

	if e.conf.TickHz != config.MaxTickHz {
		t.Errorf("tick_hz = %d, want %d", e.conf.TickHz, config.MaxTickHz)
	}
	if _, err := e.Stats(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestHasGap(t *testing.T) {
	cases := []struct {
		after, oldest, last uint64
		want                bool
	}{
		{0, 1, 5, false},
		{0, 2, 5, true},
		{4, 5, 9, false},
		{3, 5, 9, true},
		{9, 0, 9, false},
		{8, 0, 9, true},
		{0, 0, 0, false},
		{20, 5, 9, false},
		{math.MaxUint64, 5, 9, false},
		{math.MaxUint64, 0, 9, false},
	}
	for _, tc := range cases {
		if got := hasGap(tc.after, tc.oldest, tc.last); got != tc.want {
			t.Errorf("hasGap(%d, %d, %d) = %v, want %v", tc.after, tc.oldest, tc.last, got, tc.want)
		}
	}
}
