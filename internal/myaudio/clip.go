package myaudio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/motioncam/internal/errors"
)

// BitDepth is the sample width of all captured audio.
const BitDepth = 16

// Clip is the PCM captured during one recording.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Empty reports whether the clip holds no whole sample frame.
func (c Clip) Empty() bool {
	return c.frameSize() == 0 || len(c.PCM) < c.frameSize()
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.Empty() || c.SampleRate <= 0 {
		return 0
	}
	frames := len(c.PCM) / c.frameSize()
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

func (c Clip) frameSize() int {
	if c.Channels <= 0 {
		return 0
	}
	return c.Channels * BitDepth / 8
}

// WriteWAV saves the clip as a 16-bit PCM WAV file, creating parent directories as needed.
// A trailing partial frame is dropped.
func WriteWAV(path string, clip Clip) error {
	if clip.Empty() || clip.SampleRate <= 0 {
		return errors.Newf("refusing to write empty audio clip").
			Component("audio").
			Category(errors.CategoryAudioExport).
			Context("path", path).
			Context("bytes", len(clip.PCM)).
			Build()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "create_directory").
			Build()
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Context("operation", "create_file").
			Build()
	}
	defer f.Close()

	enc := wav.NewEncoder(f, clip.SampleRate, BitDepth, clip.Channels, 1)
	buf := &audio.IntBuffer{
		Data:           pcmToInts(clip.PCM, clip.frameSize()),
		Format:         &audio.Format{SampleRate: clip.SampleRate, NumChannels: clip.Channels},
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioExport).
			Context("path", path).
			Context("operation", "encode_wav").
			Build()
	}

	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component("audio").
			Category(errors.CategoryAudioExport).
			Context("path", path).
			Context("operation", "finalize_wav").
			Build()
	}
	return nil
}

// pcmToInts converts little endian 16-bit samples to ints, ignoring a trailing partial frame.
func pcmToInts(pcm []byte, frameSize int) []int {
	usable := len(pcm) - len(pcm)%frameSize
	samples := make([]int, usable/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
