package worker

import (
	"sync"
	"time"
)

type rateSample struct {
	at     time.Time
	blocks uint64
}

// RateTracker computes blocks per second over a sliding time window
type RateTracker struct {
	mu      sync.Mutex
	window  time.Duration
	started time.Time
	samples []rateSample
	now     func() time.Time
}

// NewRateTracker creates a tracker. The window starts when it is created.
func NewRateTracker(window time.Duration) *RateTracker {
	return newRateTracker(window, time.Now)
}

func newRateTracker(window time.Duration, now func() time.Time) *RateTracker {
	return &RateTracker{
		window:  window,
		started: now(),
		now:     now,
	}
}

// Record adds blocks processed just now
func (r *RateTracker) Record(blocks uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.samples = append(r.samples, rateSample{at: now, blocks: blocks})
	r.trim(now)
}

// BlocksPerSecond returns the rate over the window, or since creation when
// the tracker is younger than the window
func (r *RateTracker) BlocksPerSecond() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.trim(now)

	var total uint64
	for _, s := range r.samples {
		total += s.blocks
	}
	if total == 0 {
		return 0
	}

	from := now.Add(-r.window)
	if r.started.After(from) {
		from = r.started
	}
	elapsed := now.Sub(from).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed
}

func (r *RateTracker) trim(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.samples = append(r.samples[:0], r.samples[i:]...)
	}
}
