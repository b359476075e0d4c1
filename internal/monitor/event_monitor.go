package monitor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/classifier"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/datastore"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/media"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/mqtt"
	"github.com/tphakala/motioncam/internal/notification"
	"github.com/tphakala/motioncam/internal/observability/metrics"
	"github.com/tphakala/motioncam/internal/upload"
)

const (
	DefaultPollInterval = time.Second
	DefaultWaitCycles   = 14

	handledTTL = 30 * time.Minute
)

// Processing steps, used as the metrics "step" label.
const (
	stepRecording = "recording"
	stepClassify  = "classify"
	stepPersist   = "persist"
	stepMetadata  = "metadata"
	stepStorage   = "storage"
	stepNotify    = "notify"
	stepPublish   = "publish"
)

// EventSource is the camera side of the event hand-off.
type EventSource interface {
	Events() <-chan motion.EventDescriptor
	ReadyGate() <-chan struct{}
	Result(recordingID string) (camera.RecordingResult, bool)
}

// Store persists processed events and provides user preferences.
type Store interface {
	SaveEvent(event *datastore.MotionEvent, detections []datastore.DetectedObject) error
	UpdateEventMedia(id uint, videoPath, remoteID string) error
	GetPreference(userID string) (datastore.UserPreference, error)
}

// MetadataWriter embeds and verifies event metadata in a media file.
type MetadataWriter interface {
	EmbedMetadata(ctx context.Context, path string, meta media.Metadata) error
	Verify(ctx context.Context, path string, want media.Metadata) (bool, error)
}

// Storage moves a finished recording to its final location.
type Storage interface {
	Store(ctx context.Context, path string) (upload.Stored, error)
}

// Deps are the collaborators of the event monitor. Everything except Source is optional.
type Deps struct {
	Source     EventSource
	Classifier classifier.Classifier
	Store      Store
	Media      MetadataWriter
	Storage    Storage
	Notifier   notification.Notifier
	MQTT       mqtt.Client
	MQTTTopic  string
	NodeName   string
	Metrics    *metrics.MonitorMetrics
}

// EventMonitor drains motion events and runs the post-processing pipeline for each.
// A failing step is logged and the remaining steps still run.
type EventMonitor struct {
	deps         Deps
	pollInterval time.Duration
	waitCycles   int
	handled      *cache.Cache
	log          logger.Logger
}

// NewEventMonitor creates an event monitor.
func NewEventMonitor(settings conf.MonitorSettings, deps Deps) (*EventMonitor, error) {
	if deps.Source == nil {
		return nil, errors.Newf("event monitor requires an event source").
			Component("monitor").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.Noop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.Noop{}
	}

	poll := settings.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	cycles := settings.WaitCycles
	if cycles <= 0 {
		cycles = DefaultWaitCycles
	}

	return &EventMonitor{
		deps:         deps,
		pollInterval: poll,
		waitCycles:   cycles,
		handled:      cache.New(handledTTL, 0),
		log:          GetLogger().With(logger.String("component", "events")),
	}, nil
}

// Run polls the event queue until ctx is cancelled.
func (m *EventMonitor) Run(ctx context.Context) error {
	m.log.Info("event monitor started",
		logger.Duration("poll_interval", m.pollInterval),
		logger.Int("wait_cycles", m.waitCycles))

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("event monitor stopped")
			return nil
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle waits for a pending recording to settle, then drains the queue.
// A panic ends the cycle and the loop continues at the next poll.
func (m *EventMonitor) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("event monitor cycle panic: %v", r).
				Component("monitor").
				Category(errors.CategoryEventMonitor).
				Build()
			m.log.Error("recovered from panic", logger.Error(err))
		}
	}()

	events := m.deps.Source.Events()
	depth := len(events)
	m.deps.Metrics.SetQueueDepth(depth)
	if depth == 0 {
		return
	}

	m.waitForGate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.process(ctx, ev)
			m.deps.Metrics.SetQueueDepth(len(events))
		default:
			return
		}
	}
}

// waitForGate blocks until a recording finished or the bounded wait elapsed.
func (m *EventMonitor) waitForGate(ctx context.Context) {
	timer := time.NewTimer(time.Duration(m.waitCycles) * m.pollInterval)
	defer timer.Stop()

	select {
	case <-m.deps.Source.ReadyGate():
	case <-timer.C:
		m.log.Debug("readiness gate not signalled, draining anyway")
	case <-ctx.Done():
	}
}

// process runs every post-processing step for one event.
func (m *EventMonitor) process(ctx context.Context, ev motion.EventDescriptor) {
	log := m.log.With(
		logger.String("event_id", ev.ID),
		logger.String("recording_id", ev.RecordingID))

	videoPath := m.awaitRecording(ctx, ev, log)

	detections, err := m.deps.Classifier.Classify(ctx, ev.ImagePath)
	if err != nil {
		m.stepFailed(log, stepClassify, err)
	}

	record := &datastore.MotionEvent{
		EventID:     ev.ID,
		RecordingID: ev.RecordingID,
		UserID:      ev.UserID,
		Mode:        ev.Mode.String(),
		Position:    string(ev.Position),
		Size:        string(ev.Size),
		ImagePath:   ev.ImagePath,
		VideoPath:   videoPath,
		DetectedAt:  ev.DetectedAt,
	}
	saved := false
	if m.deps.Store != nil {
		if err := m.deps.Store.SaveEvent(record, toObjects(detections)); err != nil {
			m.stepFailed(log, stepPersist, err)
		} else {
			saved = true
		}
	}

	var stored upload.Stored
	if videoPath != "" {
		// later events of the same recording reuse the first outcome
		if prev, ok := m.handled.Get(ev.RecordingID); ok {
			stored = prev.(upload.Stored)
		} else {
			m.embedMetadata(ctx, log, videoPath, ev)
			stored = m.store(ctx, log, videoPath)
			m.handled.Set(ev.RecordingID, stored, cache.DefaultExpiration)
		}
		if saved && (stored.RemoteID != "" || stored.LocalPath != videoPath) {
			if err := m.deps.Store.UpdateEventMedia(record.ID, stored.LocalPath, stored.RemoteID); err != nil {
				m.stepFailed(log, stepPersist, err)
			}
		}
	}

	m.notify(ctx, log, ev)
	m.publish(ctx, log, ev, detections, stored)

	m.deps.Metrics.IncrementEvents()
	log.Info("motion event processed",
		logger.String("position", string(ev.Position)),
		logger.String("size", string(ev.Size)),
		logger.Int("detections", len(detections)),
		logger.Bool("has_video", videoPath != ""))
}

// awaitRecording polls for the event's recording result and returns the muxed
// video path, or "" when there is none.
func (m *EventMonitor) awaitRecording(ctx context.Context, ev motion.EventDescriptor, log logger.Logger) string {
	if ev.RecordingID == "" {
		return ""
	}

	for i := 0; ; i++ {
		if res, ok := m.deps.Source.Result(ev.RecordingID); ok {
			if res.State != camera.StateReady {
				m.stepFailed(log, stepRecording, res.Err)
				return ""
			}
			return res.OutputPath
		}
		if i >= m.waitCycles {
			break
		}
		if !sleep(ctx, m.pollInterval) {
			return ""
		}
	}

	m.stepFailed(log, stepRecording, errors.Newf("recording result not available after %d cycles", m.waitCycles).
		Component("monitor").
		Category(errors.CategoryTimeout).
		Context("recording_id", ev.RecordingID).
		Build())
	return ""
}

func (m *EventMonitor) embedMetadata(ctx context.Context, log logger.Logger, path string, ev motion.EventDescriptor) {
	if m.deps.Media == nil {
		return
	}
	meta := media.Metadata{Position: string(ev.Position), Size: string(ev.Size)}
	if err := m.deps.Media.EmbedMetadata(ctx, path, meta); err != nil {
		m.stepFailed(log, stepMetadata, err)
		return
	}
	ok, err := m.deps.Media.Verify(ctx, path, meta)
	switch {
	case err != nil:
		m.stepFailed(log, stepMetadata, err)
	case !ok:
		m.stepFailed(log, stepMetadata, errors.Newf("embedded metadata does not match").
			Component("monitor").
			Category(errors.CategoryMux).
			Context("path", filepath.Base(path)).
			Build())
	}
}

func (m *EventMonitor) store(ctx context.Context, log logger.Logger, path string) upload.Stored {
	if m.deps.Storage == nil {
		return upload.Stored{LocalPath: path}
	}
	stored, err := m.deps.Storage.Store(ctx, path)
	if err != nil {
		m.stepFailed(log, stepStorage, err)
		return upload.Stored{LocalPath: path}
	}
	return stored
}

func (m *EventMonitor) notify(ctx context.Context, log logger.Logger, ev motion.EventDescriptor) {
	pref := datastore.UserPreference{UserID: ev.UserID, Notify: datastore.NotifyAll}
	if m.deps.Store != nil {
		p, err := m.deps.Store.GetPreference(ev.UserID)
		if err != nil {
			m.stepFailed(log, stepNotify, err)
		} else {
			pref = p
		}
	}
	if !pref.NotifyEnabled() {
		log.Debug("notifications disabled for user", logger.String("user_id", ev.UserID))
		return
	}

	err := m.deps.Notifier.Notify(ctx, ev.UserID, ev.ImagePath)
	switch {
	case err == nil:
		m.deps.Metrics.RecordNotification(metrics.NotificationSent)
	case errors.Is(err, notification.ErrThrottled):
		m.deps.Metrics.RecordNotification(metrics.NotificationThrottled)
	default:
		m.deps.Metrics.RecordNotification(metrics.NotificationFailed)
		m.stepFailed(log, stepNotify, err)
	}
}

func (m *EventMonitor) publish(ctx context.Context, log logger.Logger, ev motion.EventDescriptor, dets []classifier.Detection, stored upload.Stored) {
	if m.deps.MQTT == nil || m.deps.MQTTTopic == "" {
		return
	}

	objects := make([]mqtt.ObjectDTO, 0, len(dets))
	for _, d := range dets {
		objects = append(objects, mqtt.ObjectDTO{Label: d.Label, Type: string(d.Type), Confidence: d.Confidence})
	}
	dto := mqtt.EventDTO{
		EventID:     ev.ID,
		RecordingID: ev.RecordingID,
		Node:        m.deps.NodeName,
		UserID:      ev.UserID,
		Mode:        ev.Mode.String(),
		Position:    string(ev.Position),
		Size:        string(ev.Size),
		DetectedAt:  ev.DetectedAt,
		Objects:     objects,
		VideoPath:   stored.LocalPath,
		RemoteID:    stored.RemoteID,
	}
	if err := mqtt.PublishEvent(ctx, m.deps.MQTT, m.deps.MQTTTopic, dto); err != nil {
		m.stepFailed(log, stepPublish, err)
	}
}

func (m *EventMonitor) stepFailed(log logger.Logger, step string, err error) {
	m.deps.Metrics.RecordStepFailure(step)
	if err == nil {
		err = errors.Newf("%s step failed", step).
			Component("monitor").
			Category(errors.CategoryEventMonitor).
			Build()
	}
	log.Warn("event step failed", logger.String("step", step), logger.Error(err))
}

func toObjects(dets []classifier.Detection) []datastore.DetectedObject {
	out := make([]datastore.DetectedObject, 0, len(dets))
	for _, d := range dets {
		out = append(out, datastore.DetectedObject{
			Label:      d.Label,
			Category:   string(d.Type),
			Confidence: d.Confidence,
			X:          d.Box.Min.X,
			Y:          d.Box.Min.Y,
			Width:      d.Box.Dx(),
			Height:     d.Box.Dy(),
		})
	}
	return out
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
