package gate

import (
	"math"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/simgate/internal/metrics"
)

type bucket struct {
	windowStart time.Time
	count       uint32
}

// Buckets is the process-wide client key → fixed-window counter map.
// Construct it once and pass it to every Gate; the mutex is held only for
// the lookup and update, never across a downstream handler.
type Buckets struct {
	mu sync.Mutex
	m  map[string]*bucket
}

// NewBuckets returns an empty bucket map.
func NewBuckets() *Buckets {
	return &Buckets{m: make(map[string]*bucket)}
}

// Len returns the number of tracked client keys.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// allow counts one request for key and reports whether it fits the
// window's quota. Rejected requests still count.
func (b *Buckets) allow(key string, limit uint32, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.m[key]
	if !ok {
		e = &bucket{windowStart: now}
		b.m[key] = e
	}
	if now.Sub(e.windowStart) >= window {
		e.windowStart = now
		e.count = 0
	}
	if e.count < math.MaxUint32 {
		e.count++
	}
	allowed := e.count <= limit

	if len(b.m) > maxBuckets {
		for k, v := range b.m {
			if now.Sub(v.windowStart) >= idleExpiry {
				delete(b.m, k)
			}
		}
	}
	metrics.GateBuckets.Set(float64(len(b.m)))
	return allowed
}
