package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowReplicatesLateSample(t *testing.T) {
	t0 := time.Unix(100, 0)
	w := NewWindow(8, 100*time.Millisecond)

	assert.Equal(t, 1, w.Add(1, t0))
	assert.Equal(t, 4, w.Add(2, t0.Add(350*time.Millisecond)))
	assert.Equal(t, 5, w.Len())
	assert.Nil(t, w.Samples(), "window is not full yet")

	assert.Equal(t, 3, w.Add(3, t0.Add(650*time.Millisecond)))
	assert.Equal(t, []float64{1, 2, 2, 2, 2, 3, 3, 3}, w.Samples())
}

func TestWindowReplicaBounds(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{-time.Second, 1},
		{149 * time.Millisecond, 1},
		{150 * time.Millisecond, 2},
		{480 * time.Millisecond, 5},
		{10 * time.Second, 5},
	}
	for _, tc := range cases {
		t.Run(tc.elapsed.String(), func(t *testing.T) {
			t0 := time.Unix(100, 0)
			w := NewWindow(10, 100*time.Millisecond)
			w.Add(0, t0)
			assert.Equal(t, tc.want, w.Add(1, t0.Add(tc.elapsed)))
		})
	}
}

func TestWindowTrimsPastSlack(t *testing.T) {
	t0 := time.Unix(100, 0)
	w := NewWindow(3, 100*time.Millisecond)

	w.Add(1, t0)
	w.Add(2, t0.Add(500*time.Millisecond))
	assert.Equal(t, 6, w.Len(), "three over size is within the slack")

	w.Add(3, t0.Add(time.Second))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{3, 3, 3}, w.Samples())

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 1, w.Add(4, t0.Add(time.Hour)), "reset forgets the previous timestamp")
}

func TestThresholdWatcher(t *testing.T) {
	var fired []float64
	w := NewThresholdWatcher(2, func(v float64) { fired = append(fired, v) })
	w.Seed(10)

	assert.False(t, w.Observe(11, true))
	assert.Empty(t, fired)

	assert.True(t, w.Observe(13, true))
	assert.Equal(t, []float64{13}, fired)
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 13.0, last)

	assert.False(t, w.Observe(100, false), "missing readings are ignored")
	assert.True(t, w.Observe(11, true), "a drop by the threshold fires too")
}

func TestThresholdWatcherFirstValueFires(t *testing.T) {
	calls := 0
	w := NewThresholdWatcher(5, func(float64) { calls++ })
	assert.True(t, w.Observe(0, true))
	assert.False(t, w.Observe(4.9, true))
	assert.Equal(t, 1, calls)
}

func TestFixedPointCodec(t *testing.T) {
	decode := DecodeFixed(10)
	v, ok := decode(EncodeFixed(21.5, 10))
	require.True(t, ok)
	assert.Equal(t, 21.5, v)

	v, ok = decode(EncodeFixed(-3.25, 10))
	require.True(t, ok)
	assert.Equal(t, -3.25, v)

	_, ok = decode([]byte{1, 2})
	assert.False(t, ok)

	v, ok = DecodeU8([]byte{1})
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
	_, ok = DecodeU8(nil)
	assert.False(t, ok)
}
