package myaudio

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

// Format is the PCM layout delivered by a Source. Samples are always signed 16-bit little endian.
type Format struct {
	SampleRate int
	Channels   int
}

// Source is an audio input that can be opened for one recording at a time.
type Source interface {
	// Open starts capture and calls onData with interleaved PCM from a driver thread.
	// The slice is only valid for the duration of the call.
	Open(onData func(pcm []byte)) (Format, error)
	// Close stops capture. No onData call happens after Close returns.
	Close() error
}

// MalgoSource captures from a sound card through miniaudio.
type MalgoSource struct {
	source     string
	sampleRate int
	channels   int

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	log    logger.Logger
}

// NewMalgoSource creates a capture source for the configured device. An empty source name
// selects the system default device; zero rate or channels use the device's native values.
func NewMalgoSource(cfg conf.AudioSettings) *MalgoSource {
	return &MalgoSource{
		source:     cfg.Source,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		log:        GetLogger(),
	}
}

// Open implements Source.
func (s *MalgoSource) Open(onData func(pcm []byte)) (Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return Format{}, errors.Newf("audio source already open").
			Component("audio").
			Category(errors.CategoryState).
			Build()
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return Format{}, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("backend", runtime.GOOS).
			Context("operation", "init_context").
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	if s.channels > 0 {
		deviceConfig.Capture.Channels = uint32(s.channels)
	}
	if s.sampleRate > 0 {
		deviceConfig.SampleRate = uint32(s.sampleRate)
	}
	deviceConfig.Alsa.NoMMap = 1

	if s.source != "" && s.source != "default" {
		id, err := s.findDevice(malgoCtx)
		if err != nil {
			s.freeContext(malgoCtx)
			return Format{}, err
		}
		deviceConfig.Capture.DeviceID = id
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext(malgoCtx)
		return Format{}, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("device", s.source).
			Context("operation", "init_device").
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		s.freeContext(malgoCtx)
		return Format{}, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("device", s.source).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = malgoCtx
	s.device = device

	format := Format{
		SampleRate: int(device.SampleRate()),
		Channels:   int(device.CaptureChannels()),
	}
	s.log.Debug("audio capture started",
		logger.String("device", s.source),
		logger.Int("sample_rate", format.SampleRate),
		logger.Int("channels", format.Channels),
		logger.String("format", formatToString(device.CaptureFormat())))
	return format, nil
}

// Close implements Source.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	var stopErr error
	if err := s.device.Stop(); err != nil {
		stopErr = errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "stop_device").
			Build()
	}
	s.device.Uninit()
	s.device = nil

	s.freeContext(s.ctx)
	s.ctx = nil
	return stopErr
}

func (s *MalgoSource) findDevice(malgoCtx *malgo.AllocatedContext) (unsafe.Pointer, error) {
	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryAudio).
			Context("operation", "list_devices").
			Build()
	}

	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			continue
		}
		if matchesDevice(decodedID, &infos[i], s.source) {
			return infos[i].ID.Pointer(), nil
		}
	}

	return nil, errors.Newf("no capture device matches %q", s.source).
		Component("audio").
		Category(errors.CategoryNotFound).
		Context("device", s.source).
		Context("available", len(infos)).
		Build()
}

func (s *MalgoSource) freeContext(malgoCtx *malgo.AllocatedContext) {
	if malgoCtx == nil {
		return
	}
	if err := malgoCtx.Uninit(); err != nil {
		s.log.Warn("failed to release audio context", logger.Error(err))
	}
	malgoCtx.Free()
}

func backend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
