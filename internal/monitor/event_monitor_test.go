package monitor

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/classifier"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/media"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/notification"
	"github.com/tphakala/motioncam/internal/observability/metrics"
	"github.com/tphakala/motioncam/internal/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"))
}

type fakeSource struct {
	events  chan motion.EventDescriptor
	gate    chan struct{}
	mu      sync.Mutex
	results map[string]camera.RecordingResult
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:  make(chan motion.EventDescriptor, 8),
		gate:    make(chan struct{}, 1),
		results: map[string]camera.RecordingResult{},
	}
}

func (s *fakeSource) Events() <-chan motion.EventDescriptor { return s.events }
func (s *fakeSource) ReadyGate() <-chan struct{} { return s.gate }
func (s *fakeSource) Result(id string) (camera.RecordingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

func (s *fakeSource) finish(id string, state camera.RecordingState, out string) {
	s.mu.Lock()
	s.results[id] = camera.RecordingResult{ID: id, State: state, OutputPath: out}
	s.mu.Unlock()
	select {
	case s.gate <- struct{}{}:
	default:
	}
}

type fakeStore struct {
	mu      sync.Mutex
	events  []datastore.MotionEvent
	objects [][]datastore.DetectedObject
	media   map[uint][2]string
	pref    datastore.UserPreference
	saveErr error
}

func (s *fakeStore) SaveEvent(e *datastore.MotionEvent, d []datastore.DetectedObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	e.ID = uint(len(s.events) + 1)
	s.events = append(s.events, *e)
	s.objects = append(s.objects, d)
	return nil
}

func (s *fakeStore) UpdateEventMedia(id uint, videoPath, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.media == nil {
		s.media = map[uint][2]string{}
	}
	s.media[id] = [2]string{videoPath, remoteID}
	return nil
}

func (s *fakeStore) GetPreference(userID string) (datastore.UserPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pref
	p.UserID = userID
	return p, nil
}

type fakeMedia struct {
	embedded atomic.Int32
	verifyOK bool
}

func (f *fakeMedia) EmbedMetadata(context.Context, string, media.Metadata) error {
	f.embedded.Add(1)
	return nil
}

func (f *fakeMedia) Verify(context.Context, string, media.Metadata) (bool, error) {
	return f.verifyOK, nil
}

type fakeStorage struct {
	calls  atomic.Int32
	stored upload.Stored
	err    error
}

func (f *fakeStorage) Store(context.Context, string) (upload.Stored, error) {
	f.calls.Add(1)
	return f.stored, f.err
}

type fakeClassifier struct {
	dets []classifier.Detection
	err  error
}

func (f fakeClassifier) Classify(context.Context, string) ([]classifier.Detection, error) {
	return f.dets, f.err
}
func (fakeClassifier) Close() error { return nil }

type fakeNotifier struct {
	calls atomic.Int32
	err   error
}

func (f *fakeNotifier) Notify(context.Context, string, string) error {
	f.calls.Add(1)
	return f.err
}

type panicClassifier struct{}

func (panicClassifier) Classify(context.Context, string) ([]classifier.Detection, error) {
	panic("model crashed")
}
func (panicClassifier) Close() error { return nil }

type fixture struct {
	source   *fakeSource
	store    *fakeStore
	media    *fakeMedia
	storage  *fakeStorage
	notifier *fakeNotifier
	metrics  *metrics.MonitorMetrics
	monitor  *EventMonitor
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	m, err := metrics.NewMonitorMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	f := &fixture{
		source:   newFakeSource(),
		store:    &fakeStore{pref: datastore.UserPreference{Notify: datastore.NotifyAll}},
		media:    &fakeMedia{verifyOK: true},
		storage:  &fakeStorage{stored: upload.Stored{RemoteID: "remote-1"}},
		notifier: &fakeNotifier{},
		metrics:  m,
	}
	deps := Deps{
		Source: f.source,
		Classifier: fakeClassifier{dets: []classifier.Detection{
			{Label: "person", Type: classifier.ObjectHuman, Confidence: 0.8, Box: image.Rect(10, 20, 110, 220)},
		}},
		Store:    f.store,
		Media:    f.media,
		Storage:  f.storage,
		Notifier: f.notifier,
		Metrics:  m,
	}
	if mutate != nil {
		mutate(&deps)
	}

	f.monitor, err = NewEventMonitor(conf.MonitorSettings{PollInterval: 5 * time.Millisecond, WaitCycles: 4}, deps)
	require.NoError(t, err)
	return f
}

func event(id, recordingID string) motion.EventDescriptor {
	return motion.EventDescriptor{
		ID:          id,
		RecordingID: recordingID,
		UserID:      "owner",
		Mode:        motion.ModeBackgroundModel,
		Position:    motion.PositionLeft,
		Size:        motion.SizeLarge,
		ImagePath:   "/data/images/" + id + ".jpg",
		DetectedAt:  time.Now(),
	}
}

func TestCycleProcessesReadyRecording(t *testing.T) {
	f := newFixture(t, nil)

	f.source.events <- event("e1", "rec-1")
	f.source.finish("rec-1", camera.StateReady, "/data/videos/rec-1_combined.mp4")

	f.monitor.cycle(context.Background())

	require.Len(t, f.store.events, 1)
	saved := f.store.events[0]
	assert.Equal(t, "e1", saved.EventID)
	assert.Equal(t, "/data/videos/rec-1_combined.mp4", saved.VideoPath)
	assert.Equal(t, "Left", saved.Position)
	require.Len(t, f.store.objects[0], 1)
	assert.Equal(t, "Human", f.store.objects[0][0].Category)
	assert.Equal(t, 100, f.store.objects[0][0].Width)

	assert.Equal(t, int32(1), f.media.embedded.Load())
	assert.Equal(t, int32(1), f.storage.calls.Load())
	assert.Equal(t, [2]string{"", "remote-1"}, f.store.media[1])
	assert.Equal(t, int32(1), f.notifier.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EventsProcessed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.NotificationSent)), 0)
}

func TestEventsOfOneRecordingStoreVideoOnce(t *testing.T) {
	f := newFixture(t, nil)

	f.source.events <- event("e1", "rec-1")
	f.source.events <- event("e2", "rec-1")
	f.source.finish("rec-1", camera.StateReady, "/v.mp4")

	f.monitor.cycle(context.Background())

	require.Len(t, f.store.events, 2)
	assert.Equal(t, int32(1), f.storage.calls.Load())
	assert.Equal(t, int32(1), f.media.embedded.Load())
	assert.Equal(t, [2]string{"", "remote-1"}, f.store.media[2])
}

func TestFailedRecordingStillPersistsEvent(t *testing.T) {
	f := newFixture(t, nil)

	f.source.events <- event("e1", "rec-err")
	f.source.finish("rec-err", camera.StateError, "")

	f.monitor.cycle(context.Background())

	require.Len(t, f.store.events, 1)
	assert.Empty(t, f.store.events[0].VideoPath)
	assert.Zero(t, f.storage.calls.Load())
	assert.Zero(t, f.media.embedded.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(stepRecording)), 0)
	assert.Equal(t, int32(1), f.notifier.calls.Load())
}

func TestMissingResultTimesOut(t *testing.T) {
	f := newFixture(t, nil)

	f.source.events <- event("e1", "rec-never")
	start := time.Now()
	f.monitor.cycle(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, f.store.events, 1)
	assert.Empty(t, f.store.events[0].VideoPath)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(stepRecording)), 0)
}

func TestEventWithoutRecording(t *testing.T) {
	f := newFixture(t, nil)

	f.source.events <- event("e1", "")
	f.monitor.cycle(context.Background())

	require.Len(t, f.store.events, 1)
	assert.Zero(t, f.storage.calls.Load())
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(stepRecording)), 0)
}

func TestStepFailuresDoNotStopPipeline(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Classifier = fakeClassifier{err: errors.NewStd("model missing")}
	})
	f.store.saveErr = errors.NewStd("database locked")
	f.storage.err = errors.NewStd("disk full")
	f.media.verifyOK = false

	f.source.events <- event("e1", "rec-1")
	f.source.finish("rec-1", camera.StateReady, "/v.mp4")
	f.monitor.cycle(context.Background())

	for _, step := range []string{stepClassify, stepPersist, stepMetadata, stepStorage} {
		assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(step)), 0, step)
	}
	assert.Equal(t, int32(1), f.notifier.calls.Load(), "notification still runs")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EventsProcessed), 0)
}

func TestNotificationRespectsPreference(t *testing.T) {
	f := newFixture(t, nil)
	f.store.pref.Notify = datastore.NotifyNone

	f.source.events <- event("e1", "")
	f.monitor.cycle(context.Background())

	assert.Zero(t, f.notifier.calls.Load())
}

func TestThrottledNotificationCounted(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.err = notification.ErrThrottled

	f.source.events <- event("e1", "")
	f.monitor.cycle(context.Background())

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Notifications.WithLabelValues(metrics.NotificationThrottled)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(stepNotify)), 0)
}

func TestCycleRecoversFromPanic(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Classifier = panicClassifier{} })

	f.source.events <- event("e1", "")
	f.source.events <- event("e2", "")

	assert.NotPanics(t, func() { f.monitor.cycle(context.Background()) })
	assert.Len(t, f.source.events, 1, "the cycle ends at the panicking event")
}

func TestEmptyQueueSkipsGate(t *testing.T) {
	f := newFixture(t, nil)

	start := time.Now()
	f.monitor.cycle(context.Background())
	assert.Less(t, time.Since(start), 15*time.Millisecond)
	assert.Empty(t, f.store.events)
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	f.source.events <- event("e1", "")
	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return len(f.store.events) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewEventMonitorRequiresSource(t *testing.T) {
	_, err := NewEventMonitor(conf.MonitorSettings{}, Deps{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
