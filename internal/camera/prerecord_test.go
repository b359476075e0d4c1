package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func tagged(v int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(v), 0, 0, 0), 2, 2, gocv.MatTypeCV8U)
}

func collect(b *PreRecordBuffer) []int {
	var out []int
	b.Each(func(m gocv.Mat) { out = append(out, int(m.GetUCharAt(0, 0))) })
	return out
}

func TestPreRecordBufferBoundedFIFO(t *testing.T) {
	t.Parallel()

	b := NewPreRecordBuffer(DefaultPreRecordFrames)
	defer b.Close()

	for i := range 100 {
		m := tagged(i)
		b.Push(m)
		m.Close()
		assert.LessOrEqual(t, b.Len(), b.Cap())
	}

	assert.Equal(t, 40, b.Len())
	got := collect(b)
	want := make([]int, 0, 40)
	for i := 60; i < 100; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, got)
}

func TestPreRecordBufferStoresClones(t *testing.T) {
	t.Parallel()

	b := NewPreRecordBuffer(3)
	defer b.Close()

	m := tagged(7)
	b.Push(m)
	m.SetUCharAt(0, 0, 9)
	m.Close()

	assert.Equal(t, []int{7}, collect(b))
}

func TestPreRecordBufferReset(t *testing.T) {
	t.Parallel()

	b := NewPreRecordBuffer(3)
	for i := range 5 {
		m := tagged(i)
		b.Push(m)
		m.Close()
	}
	b.Reset()
	assert.Zero(t, b.Len())
	assert.Empty(t, collect(b))

	m := tagged(42)
	b.Push(m)
	m.Close()
	assert.Equal(t, []int{42}, collect(b))
	assert.NoError(t, b.Close())
}

func TestPreRecordBufferDefaultCapacity(t *testing.T) {
	t.Parallel()

	b := NewPreRecordBuffer(0)
	defer b.Close()
	assert.Equal(t, DefaultPreRecordFrames, b.Cap())
}

func TestRecordingStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "muxing", StateMuxing.String())
	assert.Equal(t, "unknown", RecordingState(42).String())
	assert.True(t, StateRecording.Active())
	assert.True(t, StateStopping.Active())
	assert.False(t, StateMuxing.Active())
	assert.True(t, StateReady.Finished())
	assert.True(t, StateError.Finished())
	assert.False(t, StateIdle.Finished())
}
