// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// detectionModes lists accepted motion.mode values including legacy aliases.
var detectionModes = []string{
	"background-model", "point-tracking", "chromaticity-edge",
	"mog2", "lucas_kanade_orb", "mckenna",
}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateCameraSettings,
		validateMotionSettings,
		validateRecordingSettings,
		validateAudioSettings,
		validateMonitorSettings,
		validateStorageSettings,
		validateNotificationSettings,
		validateOutputSettings,
		validateMQTTSettings,
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func joinErrors(section string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s settings errors: %s", section, strings.Join(errs, "; "))
}

func validateCameraSettings(s *Settings) error {
	var errs []string
	c := &s.Camera

	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Sprintf("frame size must be positive, got %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 {
		errs = append(errs, "fps must be greater than 0")
	}
	if len(c.FourCC) != 4 {
		errs = append(errs, fmt.Sprintf("fourcc must be 4 characters, got %q", c.FourCC))
	}
	if c.Warmup < 0 {
		errs = append(errs, "warmup must not be negative")
	}
	if c.ImageInterval <= 0 {
		errs = append(errs, "image interval must be greater than 0")
	}

	return joinErrors("camera", errs)
}

func validateMotionSettings(s *Settings) error {
	var errs []string
	m := &s.Motion

	if !isKnownMode(m.Mode) {
		errs = append(errs, fmt.Sprintf("unknown detection mode %q, valid modes: %s", m.Mode, strings.Join(detectionModes, ", ")))
	}
	if m.Interval <= 0 {
		errs = append(errs, "interval must be greater than 0")
	}
	if m.ResetInterval <= 0 {
		errs = append(errs, "reset interval must be greater than 0")
	}
	if m.RelativeSize < 0 || m.RelativeSize >= 1 {
		errs = append(errs, "relative size must be in [0, 1)")
	}
	if m.PreRecordFrames < 0 {
		errs = append(errs, "pre-record frames must not be negative")
	}
	if m.BackgroundModel.MedianBlur > 0 && m.BackgroundModel.MedianBlur%2 == 0 {
		errs = append(errs, "median blur aperture must be odd")
	}
	if m.PointTracking.WindowSize <= 0 {
		errs = append(errs, "point tracking window size must be greater than 0")
	}
	if m.ChromaEdge.Alpha <= 0 || m.ChromaEdge.Alpha > 1 || m.ChromaEdge.Beta <= 0 || m.ChromaEdge.Beta > 1 {
		errs = append(errs, "chroma/edge learning rates must be in (0, 1]")
	}

	return joinErrors("motion", errs)
}

func isKnownMode(mode string) bool {
	mode = strings.ToLower(strings.TrimSpace(mode))
	for _, m := range detectionModes {
		if m == mode {
			return true
		}
	}
	return false
}

func validateRecordingSettings(s *Settings) error {
	if s.Recording.MaxDuration <= 0 {
		return fmt.Errorf("recording settings errors: max duration must be greater than 0")
	}
	return nil
}

func validateAudioSettings(s *Settings) error {
	if !s.Audio.Enabled {
		return nil
	}
	var errs []string
	if s.Audio.SampleRate <= 0 {
		errs = append(errs, "sample rate must be greater than 0")
	}
	if s.Audio.Channels < 0 || s.Audio.Channels > 2 {
		errs = append(errs, "channels must be 0 (device default), 1 or 2")
	}
	if s.Audio.JoinTimeout <= 0 {
		errs = append(errs, "join timeout must be greater than 0")
	}
	return joinErrors("audio", errs)
}

func validateMonitorSettings(s *Settings) error {
	var errs []string
	if s.Monitor.PollInterval <= 0 {
		errs = append(errs, "poll interval must be greater than 0")
	}
	if s.Monitor.WaitCycles < 0 {
		errs = append(errs, "wait cycles must not be negative")
	}
	if s.Monitor.QueueSize <= 0 {
		errs = append(errs, "queue size must be greater than 0")
	}
	return joinErrors("monitor", errs)
}

func validateStorageSettings(s *Settings) error {
	var errs []string
	if s.Storage.MaxUsage != "" {
		usage, err := ParsePercentage(s.Storage.MaxUsage)
		if err != nil || usage <= 0 || usage > 100 {
			errs = append(errs, fmt.Sprintf("max usage must be a percentage between 0%% and 100%%, got %q", s.Storage.MaxUsage))
		}
	}
	if s.Storage.Upload.Enabled && s.Storage.Upload.CredentialsFile == "" {
		errs = append(errs, "upload enabled but no credentials file configured")
	}
	r := s.Storage.Retention
	switch r.Policy {
	case "", "none":
	case "age":
		if r.MaxAge <= 0 {
			errs = append(errs, "retention max age must be greater than 0")
		}
	case "usage":
		usage, err := ParsePercentage(r.MaxUsage)
		if err != nil || usage <= 0 || usage > 100 {
			errs = append(errs, fmt.Sprintf("retention max usage must be a percentage between 0%% and 100%%, got %q", r.MaxUsage))
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown retention policy %q, use none, age or usage", r.Policy))
	}
	if r.Policy != "" && r.Policy != "none" && r.Interval <= 0 {
		errs = append(errs, "retention interval must be greater than 0")
	}
	if r.MinFiles < 0 {
		errs = append(errs, "retention min files must not be negative")
	}
	return joinErrors("storage", errs)
}

func validateNotificationSettings(s *Settings) error {
	var errs []string
	n := &s.Notification
	if n.Capacity <= 0 {
		errs = append(errs, "token bucket capacity must be greater than 0")
	}
	if n.Rate < 0 {
		errs = append(errs, "token bucket rate must not be negative")
	}
	if n.Enabled && len(n.URLs) == 0 {
		errs = append(errs, "notifications enabled but no service URLs configured")
	}
	return joinErrors("notification", errs)
}

func validateOutputSettings(s *Settings) error {
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return fmt.Errorf("output settings errors: only one of sqlite and mysql can be enabled")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output settings errors: sqlite path is required")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if s.MQTT.Topic == "" {
		errs = append(errs, "topic is required")
	}
	u, err := url.Parse(s.MQTT.Broker)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid broker URL %q", s.MQTT.Broker))
	}
	return joinErrors("mqtt", errs)
}
