package camera

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/motion"
)

func TestFirstFrameSeedsHistoryWithoutDetection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.strategy.motion.Store(true)

	still := h.tick()

	assert.Zero(t, h.strategy.calls.Load())
	assert.True(t, h.cam.history.Ready())
	assert.False(t, still.Motion)
	assert.NotEmpty(t, still.JPEG)
	assert.Equal(t, StateIdle, h.cam.State())
}

func TestEmptyFrameIsNoFrame(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	empty := gocv.NewMat()
	defer empty.Close()

	_, err := h.cam.ProcessFrame(empty)
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestRecordingCapStopsThroughMuxingToReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.tick()

	h.strategy.motion.Store(true)
	still := h.tick()
	require.True(t, still.Motion)
	require.Equal(t, StateRecording, h.cam.State())

	events := h.drainEvents()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.RecordingID)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, motion.ModeBackgroundModel, ev.Mode)
	assert.FileExists(t, ev.ImagePath)

	h.strategy.motion.Store(false)
	h.clock.Advance(21 * time.Second)
	h.tick()
	h.cam.muxWG.Wait()

	assert.Equal(t, []RecordingState{StateRecording, StateStopping, StateMuxing, StateReady}, h.Transitions())
	assert.Equal(t, StateReady, h.cam.State())

	result, ok := h.cam.Result(ev.RecordingID)
	require.True(t, ok)
	assert.Equal(t, StateReady, result.State)
	assert.FileExists(t, result.OutputPath)
	assert.Equal(t, result.OutputPath, h.cam.LatestRecording())

	entries, err := os.ReadDir(h.settings.Recording.Path)
	require.NoError(t, err)
	require.Len(t, entries, 1, "intermediates are removed after muxing")
	assert.Equal(t, filepath.Base(result.OutputPath), entries[0].Name())

	select {
	case <-h.cam.ReadyGate():
	default:
		t.Fatal("readiness gate not signalled")
	}
}

func TestMuxFailureTransitionsToError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.muxer.fail = true

	h.tick()
	h.strategy.motion.Store(true)
	h.tick()
	ev := h.drainEvents()[0]

	h.clock.Advance(20 * time.Second)
	h.tick()
	h.cam.muxWG.Wait()

	assert.Equal(t, []RecordingState{StateRecording, StateStopping, StateMuxing, StateError}, h.Transitions())

	result, ok := h.cam.Result(ev.RecordingID)
	require.True(t, ok)
	assert.Equal(t, StateError, result.State)
	assert.Empty(t, result.OutputPath)
	require.Error(t, result.Err)
	assert.Empty(t, h.cam.LatestRecording())

	entries, err := os.ReadDir(h.settings.Recording.Path)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is kept after a failed mux")
}

func TestAudioDisabledKeepsSilentVideo(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *conf.Settings) { s.Audio.Enabled = false })

	h.tick()
	h.strategy.motion.Store(true)
	h.tick()
	ev := h.drainEvents()[0]
	h.cam.StopRecording()
	h.cam.muxWG.Wait()

	result, ok := h.cam.Result(ev.RecordingID)
	require.True(t, ok)
	assert.Equal(t, StateReady, result.State)
	assert.FileExists(t, result.OutputPath)
	assert.Zero(t, h.muxer.Calls())
	assert.Zero(t, h.audio.started)
}

func TestAudioFailureMarksRecordingError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.audio.stopErr = errors.NewStd("capture did not stop")

	h.tick()
	h.strategy.motion.Store(true)
	h.tick()
	ev := h.drainEvents()[0]
	h.cam.StopRecording()
	h.cam.muxWG.Wait()

	result, ok := h.cam.Result(ev.RecordingID)
	require.True(t, ok)
	assert.Equal(t, StateError, result.State)
	assert.True(t, errors.IsCategory(result.Err, errors.CategoryAudio))
	assert.Zero(t, h.muxer.Calls())
}

func TestPreRecordFramesSplicedIntoRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for range 5 {
		h.tick()
	}

	h.strategy.motion.Store(true)
	h.tick()
	sink := h.sinks.last()
	require.NotNil(t, sink)
	assert.Equal(t, 6, sink.Frames(), "buffered frames including the trigger frame")
	assert.Zero(t, h.cam.prebuf.Len())

	h.tick()
	assert.Equal(t, 7, sink.Frames())
}

func TestSingleActiveRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.tick()
	h.strategy.motion.Store(true)
	for range 4 {
		h.clock.Advance(time.Second)
		h.tick()
	}

	h.sinks.mu.Lock()
	opened := len(h.sinks.sinks)
	h.sinks.mu.Unlock()
	assert.Equal(t, 1, opened)

	ids := map[string]struct{}{}
	for _, ev := range h.drainEvents() {
		ids[ev.RecordingID] = struct{}{}
	}
	assert.Len(t, ids, 1)
}

func TestStillCadenceHalvesWhileMotionContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *conf.Settings) { s.Recording.MaxDuration = time.Hour })
	h.tick()

	h.strategy.motion.Store(true)
	h.tick() // first motion saves a still
	h.clock.Advance(11 * time.Second)
	h.tick() // ongoing motion, 10s cadence
	assert.Len(t, h.drainEvents(), 2)

	h.strategy.motion.Store(false)
	h.clock.Advance(time.Second)
	h.tick()

	h.strategy.motion.Store(true)
	h.clock.Advance(13 * time.Second)
	h.tick() // 14s since the last still, baseline 20s applies
	assert.Empty(t, h.drainEvents())

	h.clock.Advance(7 * time.Second)
	h.tick() // 21s since the last still
	assert.Len(t, h.drainEvents(), 1)
}

func TestEventPositionAndSize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.strategy.SetBox(image.Rect(600, 300, 606, 306))
	h.tick()
	h.strategy.motion.Store(true)
	still := h.tick()

	events := h.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, motion.PositionRight, events[0].Position)
	assert.Equal(t, motion.SizeSmall, events[0].Size)
	assert.Equal(t, motion.PositionRight, still.Position)
	assert.Equal(t, motion.SizeSmall, still.Size)

	h2 := newHarness(t, nil)
	h2.tick()
	h2.strategy.motion.Store(true)
	h2.tick()
	events = h2.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, motion.PositionLeft, events[0].Position)
	assert.Equal(t, motion.SizeLarge, events[0].Size)
}

func TestTinyRegionIsNotMotion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.strategy.SetBox(image.Rect(10, 10, 12, 12))
	h.tick()
	h.strategy.motion.Store(true)
	still := h.tick()

	assert.False(t, still.Motion)
	assert.Empty(t, h.drainEvents())
	assert.Equal(t, StateIdle, h.cam.State())
}

func TestDiskGuardSkipsRecording(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, func(_ *harness, d *Deps) { d.Guard = fakeGuard{allow: false} })
	h.tick()
	h.strategy.motion.Store(true)
	h.tick()

	assert.Equal(t, StateIdle, h.cam.State())
	events := h.drainEvents()
	require.Len(t, events, 1)
	assert.Empty(t, events[0].RecordingID)
}

func TestSinkFailureMarksError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sinks.err = errors.NewStd("codec unavailable")
	h.tick()
	h.strategy.motion.Store(true)
	h.tick()

	assert.Equal(t, StateError, h.cam.State())
	assert.Zero(t, h.audio.started)
}

func TestPanicDuringTickIsRecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sinks.panicking = true
	h.tick()
	h.strategy.motion.Store(true)

	frame := solidFrame(90)
	defer frame.Close()
	_, err := h.cam.ProcessFrame(frame)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCamera))

	// the lifecycle lock was released
	done := make(chan struct{})
	go func() {
		h.cam.StopRecording()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle lock still held after panic")
	}
}

func TestDetectionErrorDoesNotAbortTick(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.tick()
	h.strategy.fail.Store(true)

	frame := solidFrame(90)
	defer frame.Close()
	still, err := h.cam.ProcessFrame(frame)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMotion))
	assert.NotEmpty(t, still.JPEG)
	assert.False(t, still.Motion)
}

func TestModeSwitchKeepsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	for range 3 {
		h.tick()
	}
	before := h.cam.history.Current().Clone()
	defer before.Close()

	mode, err := h.cam.SetMode("point-tracking")
	require.NoError(t, err)
	assert.Equal(t, motion.ModePointTracking, mode)
	assert.Equal(t, motion.ModePointTracking, h.cam.Mode())

	assert.True(t, h.cam.history.Ready())
	assert.Equal(t, motion.HistoryDepth, h.cam.history.Len())
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(before, h.cam.history.Current(), &diff)
	assert.Zero(t, gocv.CountNonZero(diff))

	assert.Equal(t, int32(1), h.tracker.resets.Load())
	assert.Zero(t, h.strategy.resets.Load())

	h.tick()
	assert.Positive(t, h.tracker.calls.Load())

	_, err = h.cam.SetMode("nonsense")
	require.Error(t, err)
	assert.Equal(t, motion.ModePointTracking, h.cam.Mode())
}

func TestIntervalGatesDetection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *conf.Settings) {
		s.Motion.Interval = 4
		s.Recording.MaxDuration = time.Hour
	})
	h.strategy.motion.Store(true)

	var decided []int
	for i := range 8 {
		h.clock.Advance(30 * time.Second)
		if h.tick().Motion {
			decided = append(decided, i+1)
		}
	}

	// the first tick seeds, the strategy sees every later frame
	assert.Equal(t, int32(7), h.strategy.calls.Load())
	// motion is confirmed only on frames 4 and 8
	assert.Equal(t, []int{4, 8}, decided)
	assert.Len(t, h.drainEvents(), 2)
	assert.Equal(t, StateRecording, h.cam.State())
}

func TestWarmupDelaysDetection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *conf.Settings) { s.Camera.Warmup = 5 * time.Second })
	h.strategy.motion.Store(true)
	h.tick()
	h.tick()
	assert.Zero(t, h.strategy.calls.Load())

	h.clock.Advance(5 * time.Second)
	h.tick()
	assert.Equal(t, int32(1), h.strategy.calls.Load())
}

type fakeSource struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (s *fakeSource) Read(dst *gocv.Mat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == 0 {
		return false
	}
	s.frames--
	frame := solidFrame(60)
	defer frame.Close()
	frame.CopyTo(dst)
	return true
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestRunProcessesFramesUntilCancelled(t *testing.T) {
	t.Parallel()

	src := &fakeSource{frames: 5}
	h := newHarness(t, func(s *conf.Settings) { s.Camera.Warmup = 5 * time.Second }, func(_ *harness, d *Deps) {
		d.OpenSource = func() (FrameSource, error) { return src, nil }
	})

	require.NoError(t, h.cam.Enable())
	assert.True(t, h.cam.Enabled())
	assert.Equal(t, LifecycleWarmingUp, h.cam.Lifecycle())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.cam.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := h.cam.LatestStill()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, LifecycleReady, h.cam.Lifecycle())

	require.NoError(t, h.cam.Disable())
	assert.Equal(t, LifecycleOff, h.cam.Lifecycle())
	assert.True(t, src.closed)
}

func TestEnableFailureLeavesCaptureOff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil, func(_ *harness, d *Deps) {
		d.OpenSource = func() (FrameSource, error) { return nil, errors.NewStd("no camera") }
	})

	require.Error(t, h.cam.Enable())
	assert.False(t, h.cam.Enabled())
}

func TestDisableDoesNotWaitForMux(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	h := newHarness(t, nil, func(h *harness, d *Deps) {
		h.muxer.gate = gate
		d.OpenSource = func() (FrameSource, error) { return &fakeSource{}, nil }
	})
	require.NoError(t, h.cam.Enable())

	h.tick()
	h.strategy.motion.Store(true)
	h.tick()
	require.Equal(t, StateRecording, h.cam.State())

	require.NoError(t, h.cam.Disable())
	assert.Equal(t, StateMuxing, h.cam.State())

	close(gate)
	h.cam.muxWG.Wait()
	assert.Equal(t, StateReady, h.cam.State())
}

func TestStopRecordingDoesNotWaitForAudioJoin(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	h := newHarness(t, nil, func(h *harness, _ *Deps) { h.audio.gate = gate })

	h.tick()
	h.strategy.motion.Store(true)
	h.tick()
	require.Equal(t, StateRecording, h.cam.State())

	stopped := make(chan struct{})
	go func() {
		h.cam.StopRecording()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("StopRecording blocked on the audio join")
	}
	assert.Equal(t, StateMuxing, h.cam.State())
	// frames keep flowing while the capture is joined
	h.strategy.motion.Store(false)
	h.tick()

	close(gate)
	h.cam.muxWG.Wait()
	assert.Equal(t, StateReady, h.cam.State())
	h.muxer.mu.Lock()
	assert.Equal(t, 1, h.muxer.calls)
	h.muxer.mu.Unlock()

	h.strategy.motion.Store(true)
	h.tick()
	require.Equal(t, StateRecording, h.cam.State())
	h.audio.mu.Lock()
	defer h.audio.mu.Unlock()
	assert.Equal(t, 2, h.audio.started)
}
