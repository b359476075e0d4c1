package analysis

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/camera"
	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/media"
	"github.com/tphakala/motioncam/internal/motion"
)

// defaultFileFPS is assumed when a video file does not report its frame rate.
const defaultFileFPS = 25.0

// Report summarises an offline scan.
type Report struct {
	Source     string
	Mode       motion.Mode
	Start      time.Time // media time zero
	Frames     int
	FPS        float64
	Events     []motion.EventDescriptor
	Recordings []camera.RecordingResult
	Errors     int
}

// Duration is the media time covered by the scanned frames.
func (r Report) Duration() time.Duration {
	if r.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(r.Frames) / r.FPS * float64(time.Second))
}

// frameClock advances by one frame interval per tick so recordings follow media time.
type frameClock struct {
	base     time.Time
	interval time.Duration
	frames   atomic.Int64
}

func newFrameClock(base time.Time, fps float64) *frameClock {
	return &frameClock{base: base, interval: time.Duration(float64(time.Second) / fps)}
}

func (c *frameClock) Now() time.Time {
	return c.base.Add(time.Duration(c.frames.Load()) * c.interval)
}

func (c *frameClock) Tick() {
	c.frames.Add(1)
}

// FileAnalysis replays a video file through the camera state machine and writes a report
// of motion events and recordings to w. Stills and recordings are written to the configured
// directories exactly as in realtime mode.
func FileAnalysis(ctx context.Context, settings *conf.Settings, path string, w io.Writer) error {
	if err := validateVideoFile(path); err != nil {
		return err
	}

	report, err := scanFile(ctx, settings, path)
	if err != nil {
		return err
	}
	return writeReport(w, report)
}

func validateVideoFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if info.IsDir() || info.Size() == 0 {
		return errors.Newf("%s is not a non-empty video file", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}
	return nil
}

func scanFile(ctx context.Context, settings *conf.Settings, path string) (Report, error) {
	log := GetLogger()

	src, err := camera.OpenDevice(path, 0, 0, 0)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Warn("failed to close video file", logger.String("path", path), logger.Error(err))
		}
	}()

	fps := src.FPS()
	if fps <= 0 {
		fps = defaultFileFPS
	}

	s := *settings
	s.Camera.Source = path
	s.Camera.FPS = fps
	s.Camera.Warmup = 0
	s.Audio.Enabled = false

	dispatcher, err := motion.NewDispatcher(motion.DefaultRegistry(), s.Motion)
	if err != nil {
		return Report{}, err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("failed to release motion strategies", logger.Error(err))
		}
	}()

	ffmpeg, err := media.NewFFmpeg(s.Media)
	if err != nil {
		return Report{}, err
	}

	clock := newFrameClock(time.Now().Truncate(time.Second), fps)
	cam, err := camera.New(&s, camera.Deps{
		Dispatcher: dispatcher,
		NewSink:    camera.NewVideoWriterFactory(s.Camera.FourCC),
		Muxer:      ffmpeg,
		Clock:      clock.Now,
	})
	if err != nil {
		return Report{}, err
	}

	report := Report{Source: path, Mode: dispatcher.Mode(), Start: clock.base, FPS: fps}
	log.Info("scanning video file",
		logger.String("path", path),
		logger.Float64("fps", fps),
		logger.String("mode", report.Mode.String()))

	frame := gocv.NewMat()
	defer frame.Close()

	for ctx.Err() == nil && src.Read(&frame) {
		if frame.Empty() {
			continue
		}
		if _, err := cam.ProcessFrame(frame); err != nil {
			report.Errors++
		}
		report.Frames++
		clock.Tick()
		report.Events = drainEvents(cam.Events(), report.Events)
	}

	if err := cam.Close(); err != nil {
		log.Warn("failed to close camera", logger.Error(err))
	}
	report.Events = drainEvents(cam.Events(), report.Events)
	report.Recordings = collectRecordings(cam, report.Events)

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	log.Info("video file scanned",
		logger.Int("frames", report.Frames),
		logger.Int("events", len(report.Events)),
		logger.Int("recordings", len(report.Recordings)))
	return report, nil
}

func drainEvents(ch <-chan motion.EventDescriptor, into []motion.EventDescriptor) []motion.EventDescriptor {
	for {
		select {
		case e := <-ch:
			into = append(into, e)
		default:
			return into
		}
	}
}

// collectRecordings returns the finished recordings referenced by events, in event order.
func collectRecordings(results interface {
	Result(string) (camera.RecordingResult, bool)
}, events []motion.EventDescriptor) []camera.RecordingResult {
	var (
		seen []string
		out  []camera.RecordingResult
	)
	for _, e := range events {
		if e.RecordingID == "" || slices.Contains(seen, e.RecordingID) {
			continue
		}
		seen = append(seen, e.RecordingID)
		if r, ok := results.Result(e.RecordingID); ok {
			out = append(out, r)
		}
	}
	return out
}

func writeReport(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Source:\t%s\n", r.Source)
	fmt.Fprintf(tw, "Mode:\t%s\n", r.Mode)
	fmt.Fprintf(tw, "Frames:\t%d (%s at %.2f fps)\n", r.Frames, r.Duration().Round(time.Millisecond), r.FPS)
	if r.Errors > 0 {
		fmt.Fprintf(tw, "Frame errors:\t%d\n", r.Errors)
	}
	fmt.Fprintln(tw)

	if len(r.Events) == 0 {
		fmt.Fprintln(tw, "No motion detected.")
		return tw.Flush()
	}

	fmt.Fprintln(tw, "OFFSET\tPOSITION\tSIZE\tRECORDING\tSTILL")
	for _, e := range r.Events {
		fmt.Fprintf(tw, "+%s\t%s\t%s\t%s\t%s\n",
			e.DetectedAt.Sub(r.Start).Round(time.Millisecond),
			e.Position, e.Size, shortID(e.RecordingID), e.ImagePath)
	}

	if len(r.Recordings) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "RECORDING\tSTATE\tOUTPUT")
		for _, rec := range r.Recordings {
			out := rec.OutputPath
			if rec.Err != nil {
				out = rec.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", shortID(rec.ID), rec.State, out)
		}
	}
	return tw.Flush()
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
