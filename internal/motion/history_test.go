package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func meanValue(m gocv.Mat) float64 {
	return m.Mean().Val1
}

func TestHistoryRingOrder(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	defer h.Close()

	assert.False(t, h.Ready())
	for i, v := range []float64{10, 20, 30, 40} {
		h.Push(solidGray(t, v))
		assert.Equal(t, min(i+1, HistoryDepth), h.Len())
	}

	require.True(t, h.Ready())
	assert.InDelta(t, 40, meanValue(h.At(0)), 1e-9)
	assert.InDelta(t, 30, meanValue(h.At(1)), 1e-9)
	assert.InDelta(t, 20, meanValue(h.At(2)), 1e-9)
	assert.Panics(t, func() { h.At(3) })
}

func TestHistoryStoresClones(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	defer h.Close()

	src := solidGray(t, 10)
	h.Push(src)
	src.SetTo(gocv.NewScalar(99, 0, 0, 0))

	assert.InDelta(t, 10, meanValue(h.Current()), 1e-9)
}

func TestHistorySeedFillsAllSlots(t *testing.T) {
	t.Parallel()

	h := NewHistory()
	defer h.Close()

	h.Push(solidGray(t, 5))
	h.Seed(solidGray(t, 77))

	require.True(t, h.Ready())
	for age := range HistoryDepth {
		assert.InDelta(t, 77, meanValue(h.At(age)), 1e-9)
	}

	h.Reset()
	assert.Equal(t, 0, h.Len())
}

func TestStrategiesReturnNoMotionOnUnwarmedHistory(t *testing.T) {
	t.Parallel()

	cfg := testMotionSettings()
	frame := solidColor(t, 40, 40, 40)
	gray := solidGray(t, 40)

	for _, mode := range Modes() {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			factory, ok := DefaultRegistry().Lookup(mode)
			require.True(t, ok)
			s, err := factory(cfg)
			require.NoError(t, err)
			defer s.Close()

			for _, h := range []*History{nil, historyOf(t), historyOf(t, gray), historyOf(t, gray, gray)} {
				res, err := s.Detect(frame, h)
				require.NoError(t, err)
				assert.False(t, res.Motion)
				res.Close()
			}
		})
	}
}
