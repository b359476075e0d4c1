package camera

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/myaudio"
)

// FrameSource yields raw frames. Read returns false when no frame is available.
type FrameSource interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// SourceOpener opens the configured frame source.
type SourceOpener func() (FrameSource, error)

// VideoSink receives the colour frames of one recording.
type VideoSink interface {
	Write(frame gocv.Mat) error
	Close() error
}

// SinkFactory opens a video sink writing to path.
type SinkFactory func(path string, fps float64, width, height int) (VideoSink, error)

// AudioRecorder captures the audio track of one recording at a time.
type AudioRecorder interface {
	Start(ctx context.Context) error
	Stop() (myaudio.Clip, error)
}

// Muxer combines a silent video and a WAV file into out.
type Muxer interface {
	Mux(ctx context.Context, video, audio, out string) error
}

// SpaceGuard reports whether there is room for another recording.
type SpaceGuard interface {
	Allow() (bool, error)
}

// DeviceSource reads frames through an OpenCV video capture.
type DeviceSource struct {
	vc *gocv.VideoCapture
}

// OpenDevice opens a camera index ("0"), a file path or a stream URL. Width, height and fps
// are requested from devices that support them.
func OpenDevice(source string, width, height int, fps float64) (*DeviceSource, error) {
	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("source", source).
			Build()
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, errors.Newf("video source %q could not be opened", source).
			Component("camera").
			Category(errors.CategoryCamera).
			Context("source", source).
			Build()
	}

	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, fps)
	}
	return &DeviceSource{vc: vc}, nil
}

// Read implements FrameSource.
func (d *DeviceSource) Read(dst *gocv.Mat) bool {
	return d.vc.Read(dst)
}

// FPS returns the frame rate reported by the source, 0 when unknown.
func (d *DeviceSource) FPS() float64 {
	return d.vc.Get(gocv.VideoCaptureFPS)
}

// Close implements FrameSource.
func (d *DeviceSource) Close() error {
	return d.vc.Close()
}

// VideoWriterSink writes frames through an OpenCV video writer.
type VideoWriterSink struct {
	w *gocv.VideoWriter
}

// NewVideoWriterFactory returns a SinkFactory encoding with fourcc.
func NewVideoWriterFactory(fourcc string) SinkFactory {
	return func(path string, fps float64, width, height int) (VideoSink, error) {
		w, err := gocv.VideoWriterFile(path, fourcc, fps, width, height, true)
		if err != nil {
			return nil, errors.New(err).
				Component("camera").
				Category(errors.CategoryRecording).
				Context("path", path).
				Context("fourcc", fourcc).
				Build()
		}
		if !w.IsOpened() {
			_ = w.Close()
			return nil, errors.Newf("video writer for %s did not open", path).
				Component("camera").
				Category(errors.CategoryRecording).
				Context("fourcc", fourcc).
				Build()
		}
		return &VideoWriterSink{w: w}, nil
	}
}

// Write implements VideoSink.
func (s *VideoWriterSink) Write(frame gocv.Mat) error {
	return s.w.Write(frame)
}

// Close implements VideoSink.
func (s *VideoWriterSink) Close() error {
	return s.w.Close()
}
