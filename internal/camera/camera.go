package camera

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"gocv.io/x/gocv"
	"golang.org/x/time/rate"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/myaudio"
	"github.com/tphakala/motioncam/internal/observability/metrics"
)

const (
	DefaultWidth         = 640
	DefaultHeight        = 360
	DefaultFPS           = 30.0
	DefaultWarmup        = 5 * time.Second
	DefaultImageInterval = 20 * time.Second
	DefaultMaxDuration   = 20 * time.Second
	DefaultInterval      = 20
	DefaultResetInterval = 300
	DefaultQueueSize     = 64

	blurKernel     = 21
	idleBackoff    = 100 * time.Millisecond
	resultTTL      = 10 * time.Minute
	logErrorPeriod = 10 * time.Second
)

// ErrNoFrame is returned by ProcessFrame for an empty frame.
var ErrNoFrame = errors.NewStd("no frame")

// Deps are the collaborators of a Camera. Audio, Guard, Metrics, OnStateChange and Clock are optional.
type Deps struct {
	Dispatcher *motion.Dispatcher
	OpenSource SourceOpener
	NewSink    SinkFactory
	Audio      AudioRecorder
	Muxer      Muxer
	Guard      SpaceGuard
	Metrics    *metrics.CameraMetrics

	// OnStateChange is called under the lifecycle lock on every recording state transition.
	OnStateChange func(from, to RecordingState)
	Clock         func() time.Time
}

// Still is the latest processed frame encoded as JPEG with its motion metadata.
type Still struct {
	JPEG       []byte
	Motion     bool
	Box        image.Rectangle
	Position   motion.Position
	Size       motion.SizeClass
	CapturedAt time.Time
}

// Camera is the capture and recording state machine for one video source.
//
// ProcessFrame and Run must be called from a single goroutine. The runtime controls
// (Enable, Disable, SetMode and the getters) are safe for concurrent use.
type Camera struct {
	cameraCfg conf.CameraSettings
	motionCfg conf.MotionSettings
	recCfg    conf.RecordingSettings
	userID    string

	dispatcher *motion.Dispatcher
	openSource SourceOpener
	newSink    SinkFactory
	audio      AudioRecorder
	muxer      Muxer
	guard      SpaceGuard
	metrics    *metrics.CameraMetrics
	onChange   func(from, to RecordingState)
	now        func() time.Time

	// owned by the capture goroutine
	history       *motion.History
	prebuf        *PreRecordBuffer
	frameCount    uint64
	lastStill     time.Time
	motionOngoing bool
	readFailures  rate.Sometimes
	tickFailures  rate.Sometimes

	srcMu     sync.Mutex
	source    FrameSource
	enabled   atomic.Bool
	startedAt atomic.Int64

	// recording lifecycle
	mu          sync.Mutex
	state       atomicState
	session     *RecordingSession
	sink        VideoSink
	justStarted bool
	lastStopped string
	muxWG       sync.WaitGroup
	// closed once the previous session's audio capture has been joined
	audioStopped chan struct{}
	audioJoin    time.Duration

	events  chan motion.EventDescriptor
	ready   chan struct{}
	results *cache.Cache

	latestMu        sync.RWMutex
	latestStill     Still
	latestRecording string

	log logger.Logger
}

// New creates a camera. The dispatcher is borrowed; the caller closes it after Close.
func New(settings *conf.Settings, deps Deps) (*Camera, error) {
	if deps.Dispatcher == nil || deps.NewSink == nil || deps.Muxer == nil {
		return nil, errors.Newf("camera requires a dispatcher, a sink factory and a muxer").
			Component("camera").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c := &Camera{
		cameraCfg:    withCameraDefaults(settings.Camera),
		motionCfg:    withMotionDefaults(settings.Motion),
		recCfg:       settings.Recording,
		userID:       settings.Main.UserID,
		dispatcher:   deps.Dispatcher,
		openSource:   deps.OpenSource,
		newSink:      deps.NewSink,
		muxer:        deps.Muxer,
		guard:        deps.Guard,
		metrics:      deps.Metrics,
		onChange:     deps.OnStateChange,
		now:          deps.Clock,
		history:      motion.NewHistory(),
		readFailures: rate.Sometimes{Interval: logErrorPeriod},
		tickFailures: rate.Sometimes{Interval: logErrorPeriod},
		ready:        make(chan struct{}, 1),
		results:      cache.New(resultTTL, 0),
		log:          GetLogger(),
	}
	if settings.Audio.Enabled {
		c.audio = deps.Audio
		c.audioJoin = cmp.Or(settings.Audio.JoinTimeout, myaudio.DefaultJoinTimeout)
	}
	if c.recCfg.MaxDuration <= 0 {
		c.recCfg.MaxDuration = DefaultMaxDuration
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.prebuf = NewPreRecordBuffer(c.motionCfg.PreRecordFrames)

	queueSize := settings.Monitor.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c.events = make(chan motion.EventDescriptor, queueSize)

	if settings.Audio.Enabled && deps.Audio == nil {
		c.log.Warn("audio enabled but no recorder configured, recordings will fail to mux")
	}
	return c, nil
}

func withCameraDefaults(s conf.CameraSettings) conf.CameraSettings {
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = DefaultWidth, DefaultHeight
	}
	if s.FPS <= 0 {
		s.FPS = DefaultFPS
	}
	if s.Warmup < 0 {
		s.Warmup = DefaultWarmup
	}
	if s.ImageInterval <= 0 {
		s.ImageInterval = DefaultImageInterval
	}
	return s
}

func withMotionDefaults(s conf.MotionSettings) conf.MotionSettings {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.ResetInterval <= 0 {
		s.ResetInterval = DefaultResetInterval
	}
	if s.ContourThreshold <= 0 {
		s.ContourThreshold = 127
	}
	if s.RelativeSize <= 0 {
		s.RelativeSize = 0.005
	}
	if s.PreRecordFrames <= 0 {
		s.PreRecordFrames = DefaultPreRecordFrames
	}
	return s
}

// Events returns the queue of detected motion events.
func (c *Camera) Events() <-chan motion.EventDescriptor {
	return c.events
}

// ReadyGate returns the single-slot gate signalled when a recording finishes muxing.
// It is emptied whenever a new recording starts.
func (c *Camera) ReadyGate() <-chan struct{} {
	return c.ready
}

// Result returns the outcome of a finished recording.
func (c *Camera) Result(recordingID string) (RecordingResult, bool) {
	v, ok := c.results.Get(recordingID)
	if !ok {
		return RecordingResult{}, false
	}
	return v.(RecordingResult), true
}

// State returns the state of the most recent recording.
func (c *Camera) State() RecordingState {
	return c.state.Load()
}

// Lifecycle returns whether capture is off, warming up or ready.
func (c *Camera) Lifecycle() Lifecycle {
	if !c.enabled.Load() {
		return LifecycleOff
	}
	if !c.warmedUp(c.now()) {
		return LifecycleWarmingUp
	}
	return LifecycleReady
}

// Mode returns the active detection mode.
func (c *Camera) Mode() motion.Mode {
	return c.dispatcher.Mode()
}

// SetMode switches the detection mode without touching the frame history.
func (c *Camera) SetMode(name string) (motion.Mode, error) {
	return c.dispatcher.SetMode(name)
}

// LatestRecording returns the path of the last successfully muxed recording.
func (c *Camera) LatestRecording() string {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latestRecording
}

// LatestStill returns the most recently processed frame.
func (c *Camera) LatestStill() (Still, bool) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latestStill, c.latestStill.JPEG != nil
}

// Enabled reports whether capture is on.
func (c *Camera) Enabled() bool {
	return c.enabled.Load()
}

// Enable opens the frame source and restarts the warm-up period.
func (c *Camera) Enable() error {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	if c.source != nil {
		return nil
	}
	if c.openSource == nil {
		return errors.Newf("no frame source configured").
			Component("camera").
			Category(errors.CategoryConfiguration).
			Build()
	}

	src, err := c.openSource()
	if err != nil {
		c.log.Error("failed to open frame source",
			logger.String("source", c.cameraCfg.Source),
			logger.Error(err))
		return err
	}
	c.source = src
	c.startedAt.Store(c.now().UnixNano())
	c.enabled.Store(true)
	c.log.Info("capture enabled",
		logger.String("source", c.cameraCfg.Source),
		logger.Duration("warmup", c.cameraCfg.Warmup))
	return nil
}

// Disable releases the frame source. An active recording is stopped and muxed in the
// background; Disable does not wait for it.
func (c *Camera) Disable() error {
	c.srcMu.Lock()
	src := c.source
	c.source = nil
	c.enabled.Store(false)
	c.srcMu.Unlock()

	c.StopRecording()

	if src == nil {
		return nil
	}
	c.log.Info("capture disabled")
	if err := src.Close(); err != nil {
		return errors.New(err).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("operation", "close_source").
			Build()
	}
	return nil
}

// Run reads and processes frames until ctx is cancelled. Read failures and failed ticks are
// logged and the loop continues.
func (c *Camera) Run(ctx context.Context) error {
	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !c.read(&frame) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleBackoff):
			}
			continue
		}

		if _, err := c.ProcessFrame(frame); err != nil {
			c.tickFailures.Do(func() {
				c.log.Error("frame processing failed", logger.Error(err))
			})
		}
	}
}

func (c *Camera) read(dst *gocv.Mat) bool {
	c.srcMu.Lock()
	defer c.srcMu.Unlock()

	if c.source == nil {
		return false
	}
	if !c.source.Read(dst) || dst.Empty() {
		c.readFailures.Do(func() {
			c.log.Warn("failed to read frame", logger.String("source", c.cameraCfg.Source))
		})
		return false
	}
	return true
}

func (c *Camera) warmedUp(now time.Time) bool {
	started := c.startedAt.Load()
	if started == 0 {
		return false
	}
	return now.Sub(time.Unix(0, started)) >= c.cameraCfg.Warmup
}

// ProcessFrame runs one tick of the state machine on raw. Detection failures do not abort
// the tick; they are returned after the frame has been recorded and published. A panic is
// recovered and returned as an error.
func (c *Camera) ProcessFrame(raw gocv.Mat) (still Still, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncrementDetectionErrors()
			err = errors.Newf("frame processing panicked: %v", r).
				Component("camera").
				Category(errors.CategoryCamera).
				Context("frame", c.frameCount).
				Build()
		}
	}()

	if raw.Empty() {
		return Still{}, ErrNoFrame
	}
	now := c.now()
	c.startedAt.CompareAndSwap(0, now.UnixNano())

	w, h := c.cameraCfg.Width, c.cameraCfg.Height
	frame := gocv.NewMat()
	defer frame.Close()
	gocv.Resize(raw, &frame, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	c.prebuf.Push(frame)
	c.frameCount++
	c.metrics.IncrementFrames()

	if !c.history.Ready() {
		c.history.Seed(gray)
		c.recordFrame(frame, now)
		return c.publish(frame, now, nil), nil
	}
	c.history.Push(gray)

	var (
		region    *motion.Region
		detectErr error
	)
	if c.warmedUp(now) {
		// strategies learn from every frame, decisions are taken every interval frames
		decide := c.frameCount%uint64(c.motionCfg.Interval) == 0
		region, detectErr = c.detect(frame, decide)
		if detectErr != nil {
			c.metrics.IncrementDetectionErrors()
		}
		if decide {
			if region != nil {
				c.onMotion(frame, *region, now)
			} else {
				c.motionOngoing = false
			}
		}
	}

	c.recordFrame(frame, now)

	if c.frameCount%uint64(c.motionCfg.ResetInterval) == 0 {
		c.dispatcher.Refresh()
	}

	return c.publish(frame, now, region), detectErr
}

// detect dispatches the frame so the active strategy updates its model. When decide is set
// it also returns the confirmed motion region, if any.
func (c *Camera) detect(frame gocv.Mat, decide bool) (*motion.Region, error) {
	w, h := c.cameraCfg.Width, c.cameraCfg.Height
	var found *motion.Region

	_, err := c.dispatcher.Dispatch(frame, c.history, func(mask gocv.Mat) bool {
		if !decide {
			return false
		}
		region, ok := motion.LargestRegion(mask, c.motionCfg.ContourThreshold, c.motionCfg.MinContourArea)
		if !ok || !motion.IsSubstantial(region.Box, w, h, c.motionCfg.RelativeSize) {
			return false
		}
		found = &region
		return true
	})
	return found, err
}

func (c *Camera) onMotion(frame gocv.Mat, region motion.Region, now time.Time) {
	mode := c.dispatcher.Mode()
	c.metrics.RecordMotion(mode.String())

	recordingID := c.startRecording(now)

	cadence := c.cameraCfg.ImageInterval
	if c.motionOngoing {
		cadence /= 2
	}
	c.motionOngoing = true

	if !c.lastStill.IsZero() && now.Sub(c.lastStill) < cadence {
		return
	}

	imagePath, err := c.saveStill(frame, now)
	if err != nil {
		c.log.Error("failed to save motion still", logger.Error(err))
		return
	}
	c.lastStill = now

	w, h := c.cameraCfg.Width, c.cameraCfg.Height
	event := motion.EventDescriptor{
		ID:          newID(),
		RecordingID: recordingID,
		UserID:      c.userID,
		Mode:        mode,
		Position:    motion.ClassifyPosition(region.Box, w),
		Size:        motion.ClassifySize(region.Area, w, h, c.motionCfg.SmallAreaPercent),
		Box:         region.Box,
		Area:        region.Area,
		ImagePath:   imagePath,
		DetectedAt:  now,
	}

	select {
	case c.events <- event:
		c.log.Debug("motion event queued",
			logger.String("event_id", event.ID),
			logger.String("recording_id", recordingID),
			logger.String("position", string(event.Position)),
			logger.String("size", string(event.Size)))
	default:
		c.log.Warn("event queue full, dropping motion event",
			logger.String("event_id", event.ID),
			logger.Int("queue_size", cap(c.events)))
	}
}

func (c *Camera) publish(frame gocv.Mat, now time.Time, region *motion.Region) Still {
	still := Still{CapturedAt: now}
	if region != nil {
		w, h := c.cameraCfg.Width, c.cameraCfg.Height
		still.Motion = true
		still.Box = region.Box
		still.Position = motion.ClassifyPosition(region.Box, w)
		still.Size = motion.ClassifySize(region.Area, w, h, c.motionCfg.SmallAreaPercent)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		c.tickFailures.Do(func() {
			c.log.Warn("failed to encode still", logger.Error(err))
		})
		return still
	}
	still.JPEG = append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	c.latestMu.Lock()
	c.latestStill = still
	c.latestMu.Unlock()
	return still
}

// Close disables capture, stops an active recording and waits for pending muxes.
// It must not be called while Run is executing.
func (c *Camera) Close() error {
	err := c.Disable()
	c.muxWG.Wait()
	c.prebuf.Close()
	c.history.Close()
	return err
}

func (c *Camera) String() string {
	return fmt.Sprintf("camera(%s)", c.cameraCfg.Source)
}
