package myaudio

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	// DefaultBufferSize holds roughly three seconds of 44.1 kHz stereo audio.
	DefaultBufferSize  = 512 * 1024
	DefaultJoinTimeout = 2 * time.Second

	drainInterval = 20 * time.Millisecond
	readChunk     = 16 * 1024
)

// Recorder captures audio for the duration of one recording. Driver callbacks write into a
// ring buffer and a drain goroutine moves the data into an accumulation buffer.
type Recorder struct {
	source      Source
	bufferSize  int
	joinTimeout time.Duration

	mu      sync.Mutex
	running bool
	ring    *ringbuffer.RingBuffer
	format  Format
	pcm     *bytes.Buffer
	cancel  context.CancelFunc
	done    chan struct{}
	dropped atomic.Int64

	log logger.Logger
}

// NewRecorder creates a recorder reading from source.
func NewRecorder(source Source, cfg conf.AudioSettings) *Recorder {
	r := &Recorder{
		source:      source,
		bufferSize:  cfg.BufferSize,
		joinTimeout: cfg.JoinTimeout,
		log:         GetLogger(),
	}
	if r.bufferSize <= 0 {
		r.bufferSize = DefaultBufferSize
	}
	if r.joinTimeout <= 0 {
		r.joinTimeout = DefaultJoinTimeout
	}
	return r
}

// Running reports whether a capture is in progress.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start opens the source and begins accumulating audio until Stop is called or ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.Newf("audio recorder already running").
			Component("audio").
			Category(errors.CategoryState).
			Build()
	}

	r.ring = ringbuffer.New(r.bufferSize)
	r.pcm = &bytes.Buffer{}
	r.dropped.Store(0)

	ring := r.ring
	format, err := r.source.Open(func(data []byte) {
		n, err := ring.Write(data)
		if err != nil {
			r.dropped.Add(int64(len(data) - n))
		}
	})
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "open_source").
			Build()
	}

	drainCtx, cancel := context.WithCancel(ctx)
	r.format = format
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go drain(drainCtx, ring, r.pcm, r.done)

	r.log.Debug("audio recorder started",
		logger.Int("sample_rate", format.SampleRate),
		logger.Int("channels", format.Channels),
		logger.Int("buffer_size", r.bufferSize))
	return nil
}

// Stop closes the source, joins the drain goroutine within the join timeout and returns the
// captured clip. When the join times out the clip is discarded and a timeout error is returned.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return Clip{}, errors.Newf("audio recorder not running").
			Component("audio").
			Category(errors.CategoryState).
			Build()
	}
	r.running = false

	closeErr := r.source.Close()
	if closeErr != nil {
		r.log.Warn("failed to close audio source", logger.Error(closeErr))
	}
	r.cancel()

	timer := time.NewTimer(r.joinTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		return Clip{}, errors.Newf("audio capture did not stop within %s", r.joinTimeout).
			Component("audio").
			Category(errors.CategoryTimeout).
			Context("join_timeout", r.joinTimeout.String()).
			Build()
	}

	clip := Clip{
		PCM:        r.pcm.Bytes(),
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
	}
	r.pcm = nil

	if dropped := r.dropped.Load(); dropped > 0 {
		r.log.Warn("audio ring buffer overflowed",
			logger.Int64("dropped_bytes", dropped),
			logger.Int("buffer_size", r.bufferSize))
	}
	r.log.Debug("audio recorder stopped",
		logger.Int("bytes", len(clip.PCM)),
		logger.Duration("duration", clip.Duration()))
	return clip, nil
}

// drain moves ring contents into the accumulation buffer until ctx is done, then empties the ring once more.
func drain(ctx context.Context, ring *ringbuffer.RingBuffer, dst *bytes.Buffer, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	chunk := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			readAll(ring, dst, chunk)
			return
		case <-ticker.C:
			readAll(ring, dst, chunk)
		}
	}
}

func readAll(ring *ringbuffer.RingBuffer, dst *bytes.Buffer, chunk []byte) {
	for ring.Length() > 0 {
		n, err := ring.Read(chunk)
		if n > 0 {
			dst.Write(chunk[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}
