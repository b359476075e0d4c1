package media

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// DefaultTimeout bounds a single ffmpeg or ffprobe invocation.
const DefaultTimeout = 2 * time.Minute

// maxStderr is how much of a failing command's stderr is kept in the error context.
const maxStderr = 512

// Metadata is the event description embedded into the comment tag of a finished recording.
type Metadata struct {
	Position string `json:"position"`
	Size     string `json:"size"`
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// FFmpeg runs media operations through external ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	run         runFunc
	log         logger.Logger
}

// NewFFmpeg resolves the ffmpeg and ffprobe binaries from settings or PATH.
// ffprobe is only required when metadata embedding is enabled.
func NewFFmpeg(cfg conf.MediaSettings) (*FFmpeg, error) {
	ffmpegPath, err := conf.ValidateToolPath(cfg.FfmpegPath, conf.GetFfmpegBinaryName())
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryConfiguration).
			Context("tool", "ffmpeg").
			Build()
	}

	ffprobePath, err := conf.ValidateToolPath(cfg.FfprobePath, conf.GetFfprobeBinaryName())
	if err != nil {
		if cfg.EmbedMetadata {
			return nil, errors.New(err).
				Component("media").
				Category(errors.CategoryConfiguration).
				Context("tool", "ffprobe").
				Build()
		}
		GetLogger().Warn("ffprobe not found, metadata verification unavailable", logger.Error(err))
	}

	return newFFmpeg(ffmpegPath, ffprobePath, cfg.Timeout, runCommand), nil
}

func newFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration, run runFunc) *FFmpeg {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
		run:         run,
		log:         GetLogger(),
	}
}

// Mux combines a video file and a WAV file into out, copying the video stream and encoding
// the audio as AAC. A partially written output is removed on failure.
func (f *FFmpeg) Mux(ctx context.Context, video, audio, out string) error {
	for _, input := range []string{video, audio} {
		if _, err := os.Stat(input); err != nil {
			return errors.New(err).
				Component("media").
				Category(errors.CategoryMux).
				Context("input", input).
				Context("operation", "stat_input").
				Build()
		}
	}

	start := time.Now()
	_, err := f.exec(ctx, f.ffmpegPath,
		"-y",
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		out)
	if err != nil {
		if rmErr := os.Remove(out); rmErr != nil && !os.IsNotExist(rmErr) {
			f.log.Warn("failed to remove partial mux output", logger.String("path", out), logger.Error(rmErr))
		}
		return errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("video", video).
			Context("audio", audio).
			Context("output", out).
			Build()
	}

	f.log.Debug("muxed recording",
		logger.String("output", out),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

// EmbedMetadata stores meta as JSON in the comment tag of path. Streams are copied into a
// temporary file which then replaces the original.
func (f *FFmpeg) EmbedMetadata(ctx context.Context, path string, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("operation", "marshal_metadata").
			Build()
	}

	tmp := filepath.Join(filepath.Dir(path), ".meta-"+filepath.Base(path))
	_, err = f.exec(ctx, f.ffmpegPath,
		"-y",
		"-i", path,
		"-map", "0",
		"-c", "copy",
		"-metadata", "comment="+string(payload),
		tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("path", path).
			Context("operation", "embed_metadata").
			Build()
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "replace_with_tagged").
			Build()
	}
	return nil
}

// ReadMetadata returns the metadata embedded by EmbedMetadata.
func (f *FFmpeg) ReadMetadata(ctx context.Context, path string) (Metadata, error) {
	if f.ffprobePath == "" {
		return Metadata{}, errors.Newf("ffprobe not available").
			Component("media").
			Category(errors.CategoryConfiguration).
			Build()
	}

	out, err := f.exec(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format_tags=comment",
		"-of", "json",
		path)
	if err != nil {
		return Metadata{}, errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("path", path).
			Context("operation", "read_metadata").
			Build()
	}

	var info struct {
		Format struct {
			Tags map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return Metadata{}, errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("path", path).
			Context("operation", "parse_ffprobe_output").
			Build()
	}

	comment := info.Format.Tags["comment"]
	if comment == "" {
		return Metadata{}, errors.Newf("no comment tag in %s", filepath.Base(path)).
			Component("media").
			Category(errors.CategoryNotFound).
			Context("path", path).
			Build()
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(comment), &meta); err != nil {
		return Metadata{}, errors.New(err).
			Component("media").
			Category(errors.CategoryMux).
			Context("path", path).
			Context("operation", "parse_comment").
			Build()
	}
	return meta, nil
}

// Verify reads the embedded metadata back and reports whether it matches want.
func (f *FFmpeg) Verify(ctx context.Context, path string, want Metadata) (bool, error) {
	got, err := f.ReadMetadata(ctx, path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func (f *FFmpeg) exec(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.run(ctx, name, args...)
}

// runCommand executes name and returns stdout. Failures carry the tail of stderr.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: binary resolved by conf.ValidateToolPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			category := errors.CategoryCancellation
			if ctxErr == context.DeadlineExceeded {
				category = errors.CategoryTimeout
			}
			return nil, errors.New(ctxErr).
				Component("media").
				Category(category).
				Context("command", filepath.Base(name)).
				Build()
		}
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryCommandExecution).
			Context("command", filepath.Base(name)).
			Context("stderr", tail(stderr.String(), maxStderr)).
			Build()
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
