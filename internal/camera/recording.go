package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/myaudio"
	"github.com/tphakala/motioncam/internal/observability/metrics"
)

func newID() string {
	return uuid.NewString()
}

// setStateLocked records a transition of the camera state. c.mu must be held.
func (c *Camera) setStateLocked(next RecordingState) {
	prev := c.state.Load()
	c.state.Store(next)
	if c.onChange != nil {
		c.onChange(prev, next)
	}
}

// startRecording opens a session unless one is active and returns its ID. An empty ID means
// no recording could be started.
func (c *Camera) startRecording(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session.ID
	}

	if c.guard != nil {
		allowed, err := c.guard.Allow()
		if err != nil {
			c.log.Warn("disk usage check failed", logger.Error(err))
		}
		if !allowed {
			c.metrics.RecordRecording(metrics.OutcomeSkipped)
			return ""
		}
	}

	sess := newSession(newID(), c.recCfg.Path, now)
	if err := os.MkdirAll(c.recCfg.Path, 0o755); err != nil {
		c.failStartLocked(sess, errors.New(err).
			Component("camera").
			Category(errors.CategoryFileIO).
			Context("path", c.recCfg.Path).
			Build())
		return ""
	}

	sink, err := c.newSink(sess.VideoPath, c.cameraCfg.FPS, c.cameraCfg.Width, c.cameraCfg.Height)
	if err != nil {
		c.failStartLocked(sess, err)
		return ""
	}

	spliced := 0
	c.prebuf.Each(func(frame gocv.Mat) {
		if err := sink.Write(frame); err == nil {
			spliced++
		}
	})
	c.prebuf.Reset()

	if c.audio != nil {
		c.awaitAudioStopLocked()
		if err := c.audio.Start(context.Background()); err != nil {
			c.log.Error("failed to start audio capture",
				logger.String("recording_id", sess.ID),
				logger.Error(err))
		}
	}

	// drop a stale readiness signal from the previous session
	select {
	case <-c.ready:
	default:
	}

	c.session = sess
	c.sink = sink
	c.justStarted = true
	c.setStateLocked(StateRecording)

	c.log.Info("recording started",
		logger.String("recording_id", sess.ID),
		logger.String("path", sess.VideoPath),
		logger.Int("prerecord_frames", spliced))
	return sess.ID
}

func (c *Camera) failStartLocked(sess *RecordingSession, err error) {
	c.log.Error("failed to start recording",
		logger.String("recording_id", sess.ID),
		logger.Error(err))
	sess.state.Store(StateError)
	c.setStateLocked(StateError)
	c.storeResult(RecordingResult{ID: sess.ID, State: StateError, Err: err, FinishedAt: c.now()})
	c.metrics.RecordRecording(metrics.OutcomeError)
}

// recordFrame writes frame to the active session and stops it once it reached the cap.
func (c *Camera) recordFrame(frame gocv.Mat, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}

	if c.justStarted {
		// the current frame was already spliced in from the pre-record buffer
		c.justStarted = false
	} else if err := c.sink.Write(frame); err != nil {
		c.tickFailures.Do(func() {
			c.log.Warn("failed to write video frame",
				logger.String("recording_id", c.session.ID),
				logger.Error(err))
		})
	}

	if now.Sub(c.session.StartedAt) >= c.recCfg.MaxDuration {
		c.stopLocked()
	}
}

// StopRecording stops the active recording, if any. Muxing continues in the background.
func (c *Camera) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.stopLocked()
	}
}

// stopLocked closes the video sink and hands the session to a goroutine that joins the audio
// capture and muxes. c.mu must be held.
func (c *Camera) stopLocked() {
	sess := c.session
	sink := c.sink
	c.session = nil
	c.sink = nil
	c.justStarted = false
	c.lastStopped = sess.ID

	sess.state.Store(StateStopping)
	c.setStateLocked(StateStopping)

	if err := sink.Close(); err != nil {
		c.log.Warn("failed to close video sink",
			logger.String("recording_id", sess.ID),
			logger.Error(err))
	}

	var audioStopped chan struct{}
	if c.audio != nil {
		audioStopped = make(chan struct{})
		c.audioStopped = audioStopped
	}

	sess.state.Store(StateMuxing)
	c.setStateLocked(StateMuxing)

	c.log.Info("recording stopped",
		logger.String("recording_id", sess.ID),
		logger.Duration("duration", c.now().Sub(sess.StartedAt)))

	c.muxWG.Go(func() {
		c.finalize(sess, audioStopped)
	})
}

// awaitAudioStopLocked waits, bounded by the audio join timeout, until the previous session's
// capture has been joined so the recorder can start again. c.mu must be held.
func (c *Camera) awaitAudioStopLocked() {
	stopped := c.audioStopped
	if stopped == nil {
		return
	}
	timer := time.NewTimer(c.audioJoin)
	defer timer.Stop()
	select {
	case <-stopped:
		c.audioStopped = nil
	case <-timer.C:
		c.log.Warn("previous audio capture still stopping", logger.Duration("join_timeout", c.audioJoin))
	}
}

// finalize joins the audio capture, produces the combined file and publishes the result.
func (c *Camera) finalize(sess *RecordingSession, audioStopped chan struct{}) {
	var (
		clip     myaudio.Clip
		audioErr error
	)
	if audioStopped != nil {
		clip, audioErr = c.audio.Stop()
		close(audioStopped)
	}

	start := time.Now()
	err := c.produceOutput(sess, clip, audioErr)

	result := RecordingResult{ID: sess.ID, FinishedAt: c.now()}
	if err != nil {
		removeQuietly(sess.VideoPath, sess.AudioPath, sess.OutputPath)
		result.State = StateError
		result.Err = err
		c.metrics.RecordRecording(metrics.OutcomeError)
		c.log.Error("recording failed",
			logger.String("recording_id", sess.ID),
			logger.Error(err))
	} else {
		result.State = StateReady
		result.OutputPath = sess.OutputPath
		c.metrics.RecordRecording(metrics.OutcomeReady)
		c.metrics.ObserveMux(time.Since(start))
		c.log.Info("recording ready",
			logger.String("recording_id", sess.ID),
			logger.String("path", sess.OutputPath))
	}
	sess.state.Store(result.State)

	c.mu.Lock()
	if c.session == nil && c.lastStopped == sess.ID {
		c.setStateLocked(result.State)
	}
	c.mu.Unlock()

	if result.State == StateReady {
		c.latestMu.Lock()
		c.latestRecording = sess.OutputPath
		c.latestMu.Unlock()
	}

	c.storeResult(result)

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Camera) produceOutput(sess *RecordingSession, clip myaudio.Clip, audioErr error) error {
	if _, err := os.Stat(sess.VideoPath); err != nil {
		return errors.New(err).
			Component("camera").
			Category(errors.CategoryRecording).
			Context("recording_id", sess.ID).
			Context("operation", "stat_video").
			Build()
	}

	if c.audio == nil {
		if err := conf.MoveFile(sess.VideoPath, sess.OutputPath); err != nil {
			return errors.New(err).
				Component("camera").
				Category(errors.CategoryFileIO).
				Context("recording_id", sess.ID).
				Context("operation", "rename_video").
				Build()
		}
		return nil
	}

	if audioErr != nil {
		return errors.New(audioErr).
			Component("camera").
			Category(errors.CategoryAudio).
			Context("recording_id", sess.ID).
			Build()
	}
	if clip.Empty() {
		return errors.Newf("no audio captured").
			Component("camera").
			Category(errors.CategoryAudio).
			Context("recording_id", sess.ID).
			Build()
	}

	if err := myaudio.WriteWAV(sess.AudioPath, clip); err != nil {
		return err
	}

	if err := c.muxer.Mux(context.Background(), sess.VideoPath, sess.AudioPath, sess.OutputPath); err != nil {
		return err
	}

	removeQuietly(sess.VideoPath, sess.AudioPath)
	return nil
}

func (c *Camera) storeResult(r RecordingResult) {
	c.results.DeleteExpired()
	c.results.Set(r.ID, r, cache.DefaultExpiration)
}

func (c *Camera) saveStill(frame gocv.Mat, now time.Time) (string, error) {
	dir := c.cameraCfg.ImagePath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("camera").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	path := filepath.Join(dir, fmt.Sprintf("motion_%s_%s.jpg", now.Format("20060102_150405"), newID()[:8]))
	if !gocv.IMWrite(path, frame) {
		return "", errors.Newf("failed to write still image").
			Component("camera").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return path, nil
}

func removeQuietly(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			GetLogger().Warn("failed to remove file", logger.String("path", p), logger.Error(err))
		}
	}
}
