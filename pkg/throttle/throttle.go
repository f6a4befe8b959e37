// Package throttle implements the memory throttle (C9): it samples process
// resident memory and signals the source producer to pause above a
// high-water mark and resume below a low-water mark, with hysteresis
// between the two marks. The marks are used as configured: nothing checks
// that the pause threshold is above the resume threshold.
package throttle

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Config bounds a Throttle. Disabled (zero PauseMB) means no gating.
type Config struct {
	PauseMB  int64
	ResumeMB int64
	Interval time.Duration
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	return c
}

// Sampler abstracts the memory reading so tests can fake it; runtime.MemStats
// is the production implementation.
type Sampler func() int64

// RuntimeSampler reads the Go runtime's current heap allocation, used as
// the process memory proxy.
func RuntimeSampler() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc)
}

// Throttle gates a producer via Paused(). It is safe for concurrent use.
type Throttle struct {
	cfg     Config
	sample  Sampler
	paused  int32
	onSample func(bytes int64)
}

// New constructs a Throttle. If cfg.PauseMB is zero, Paused always reports
// false and Run is a no-op.
func New(cfg Config, sample Sampler, onSample func(bytes int64)) *Throttle {
	if sample == nil {
		sample = RuntimeSampler
	}
	return &Throttle{cfg: cfg.normalized(), sample: sample, onSample: onSample}
}

// Enabled reports whether pause/resume gating is active.
func (t *Throttle) Enabled() bool { return t.cfg.PauseMB > 0 }

// Paused reports the current gate state.
func (t *Throttle) Paused() bool { return atomic.LoadInt32(&t.paused) == 1 }

// Run samples memory on cfg.Interval until ctx is canceled, updating the
// gate and forwarding each sample to onSample (for job.State's bounded
// ring buffer).
func (t *Throttle) Run(ctx context.Context) {
	if !t.Enabled() {
		return
	}
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sampleOnce()
		}
	}
}

func (t *Throttle) sampleOnce() {
	bytes := t.sample()
	if t.onSample != nil {
		t.onSample(bytes)
	}

	mb := bytes / (1024 * 1024)
	switch {
	case mb >= t.cfg.PauseMB:
		atomic.StoreInt32(&t.paused, 1)
	case mb <= t.cfg.ResumeMB:
		atomic.StoreInt32(&t.paused, 0)
	}
}
