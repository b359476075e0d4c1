// Package metrics provides the Prometheus collectors of the motion camera.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recording outcomes used as the "outcome" label.
const (
	OutcomeReady   = "ready"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// CameraMetrics contains metrics for frame processing and recording.
// All methods are safe to call on a nil receiver.
type CameraMetrics struct {
	FramesProcessed  prometheus.Counter
	DetectionErrors  prometheus.Counter
	MotionDetections *prometheus.CounterVec
	Recordings       *prometheus.CounterVec
	MuxDuration      prometheus.Histogram
	registry         *prometheus.Registry
}

// NewCameraMetrics creates and registers camera metrics.
func NewCameraMetrics(registry *prometheus.Registry) (*CameraMetrics, error) {
	m := &CameraMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register camera metrics: %w", err)
	}
	return m, nil
}

func (m *CameraMetrics) initMetrics() {
	m.FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_frames_processed_total",
		Help: "Total number of frames processed by the capture loop",
	})

	m.DetectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "motioncam_detection_errors_total",
		Help: "Total number of failed detection or recording decisions",
	})

	m.MotionDetections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_motion_detections_total",
		Help: "Total number of confirmed motion detections by detection mode",
	}, []string{"mode"})

	m.Recordings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "motioncam_recordings_total",
		Help: "Total number of recordings by outcome",
	}, []string{"outcome"})

	m.MuxDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "motioncam_mux_duration_seconds",
		Help:    "Duration of audio/video muxing",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
}

// IncrementFrames counts a processed frame.
func (m *CameraMetrics) IncrementFrames() {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
}

// IncrementDetectionErrors counts a failed detection tick.
func (m *CameraMetrics) IncrementDetectionErrors() {
	if m == nil {
		return
	}
	m.DetectionErrors.Inc()
}

// RecordMotion counts a confirmed motion detection for mode.
func (m *CameraMetrics) RecordMotion(mode string) {
	if m == nil {
		return
	}
	m.MotionDetections.WithLabelValues(mode).Inc()
}

// RecordRecording counts a finished recording with its outcome.
func (m *CameraMetrics) RecordRecording(outcome string) {
	if m == nil {
		return
	}
	m.Recordings.WithLabelValues(outcome).Inc()
}

// ObserveMux records how long a mux took.
func (m *CameraMetrics) ObserveMux(d time.Duration) {
	if m == nil {
		return
	}
	m.MuxDuration.Observe(d.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *CameraMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesProcessed.Collect(ch)
	m.DetectionErrors.Collect(ch)
	m.MotionDetections.Collect(ch)
	m.Recordings.Collect(ch)
	m.MuxDuration.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *CameraMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesProcessed.Describe(ch)
	m.DetectionErrors.Describe(ch)
	m.MotionDetections.Describe(ch)
	m.Recordings.Describe(ch)
	m.MuxDuration.Describe(ch)
}
