package sensor

import (
	"slices"
	"sync"
	"time"
)

const (
	// maxReplicas bounds the copies a single late sample may stand for.
	maxReplicas = 5

	// windowSlack is how far a window may outgrow its size before it is
	// trimmed.
	windowSlack = 5
)

// Window rebuilds a uniformly sampled series from bursty reports. Each
// sample is repeated once per nominal interval that elapsed since the
// previous one, between one and five times.
type Window struct {
	size     int
	interval time.Duration

	mu      sync.Mutex
	samples []float64
	last    time.Time
	started bool
}

// NewWindow returns a window holding size samples taken every interval.
func NewWindow(size int, interval time.Duration) *Window {
	if size < 1 {
		size = 1
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Window{size: size, interval: interval}
}

// Size returns the number of samples Samples returns once full.
func (w *Window) Size() int { return w.size }

// Add appends v received at time at and returns the number of copies
// appended.
func (w *Window) Add(v float64, at time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 1
	if w.started {
		elapsed := at.Sub(w.last)
		n = int((elapsed + w.interval/2) / w.interval)
		n = min(max(n, 1), maxReplicas)
	}
	w.last = at
	w.started = true

	for range n {
		w.samples = append(w.samples, v)
	}
	if extra := len(w.samples) - w.size; extra > windowSlack {
		w.samples = slices.Clone(w.samples[extra:])
	}
	return n
}

// Samples returns the last Size samples, oldest first, or nil while the
// window is not yet full.
func (w *Window) Samples() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) < w.size {
		return nil
	}
	return slices.Clone(w.samples[len(w.samples)-w.size:])
}

// Len returns the number of buffered samples, which may exceed Size.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Reset drops every sample and the previous timestamp.
func (w *Window) Reset() {
	w.mu.Lock()
	w.samples = nil
	w.started = false
	w.mu.Unlock()
}
