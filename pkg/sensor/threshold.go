package sensor

import (
	"math"
	"sync"
)

// ThresholdWatcher calls its handler only when a value moved by at least
// the threshold since the last value it reported.
type ThresholdWatcher struct {
	threshold float64
	fn        func(float64)

	mu   sync.Mutex
	last float64
	has  bool
}

// NewThresholdWatcher returns a watcher calling fn. The first observed
// value always fires unless Seed was called.
func NewThresholdWatcher(threshold float64, fn func(float64)) *ThresholdWatcher {
	return &ThresholdWatcher{threshold: threshold, fn: fn}
}

// Seed sets the reference value without calling the handler.
func (t *ThresholdWatcher) Seed(v float64) {
	t.mu.Lock()
	t.last, t.has = v, true
	t.mu.Unlock()
}

// Observe feeds a reading. A missing reading (ok false) is ignored. It
// reports whether the handler ran; the reference value moves only then.
func (t *ThresholdWatcher) Observe(v float64, ok bool) bool {
	if !ok {
		return false
	}
	t.mu.Lock()
	if t.has && math.Abs(v-t.last) < t.threshold {
		t.mu.Unlock()
		return false
	}
	t.last, t.has = v, true
	t.mu.Unlock()

	if t.fn != nil {
		t.fn(v)
	}
	return true
}

// Last returns the reference value.
func (t *ThresholdWatcher) Last() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.has
}
