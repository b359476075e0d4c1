// config.go: settings struct for the motion camera and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/motioncam/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// CameraSettings contains frame source and capture geometry settings.
type CameraSettings struct {
	Source        string        // device index ("0") or path/URL of a video source
	Width         int           // processing width, frames are resized to this
	Height        int           // processing height
	FPS           float64       // recording frame rate
	FourCC        string        // video sink codec
	Warmup        time.Duration // frames are not analysed until the device has run this long
	ImageInterval time.Duration // minimum interval between stills, halved while motion continues
	ImagePath     string        // directory for motion stills
	Enabled       bool          // start capture on launch
}

// BackgroundModelSettings configures the MOG2 background subtractor.
type BackgroundModelSettings struct {
	History      int
	VarThreshold float64
	MedianBlur   int
}

// PointTrackingSettings configures ORB seeded Lucas-Kanade tracking.
type PointTrackingSettings struct {
	Displacement float64 // pixels a tracked point must move to count as motion
	WindowSize   int
	MaxLevel     int
	Iterations   int
	Epsilon      float64
}

// ChromaEdgeSettings configures the chromaticity and edge background model.
type ChromaEdgeSettings struct {
	Alpha           float64 // chromaticity learning rate
	Beta            float64 // edge learning rate
	ChromaThreshold float64 // deviation multiplier over chroma variance
	EdgeThreshold   float64 // deviation multiplier over edge variance
}

// FrameDiffSettings configures three-frame differencing.
type FrameDiffSettings struct {
	Threshold        float32
	DilateIterations int
}

// MotionSettings contains detection settings.
type MotionSettings struct {
	Mode             string  // background-model, point-tracking or chromaticity-edge
	Interval         int     // run detection every N frames
	ResetInterval    int     // reset long-lived references every N frames
	RelativeSize     float64 // minimum bounding box size relative to frame width/height
	ContourThreshold float32 // binarisation threshold applied to the combined mask
	MinContourArea   float64
	SmallAreaPercent float64 // contours below this share of the frame are "Small"
	PreRecordFrames  int
	BackgroundModel  BackgroundModelSettings
	PointTracking    PointTrackingSettings
	ChromaEdge       ChromaEdgeSettings
	FrameDiff        FrameDiffSettings
}

// RecordingSettings contains video recording settings.
type RecordingSettings struct {
	Path        string        // directory for raw and combined recordings
	MaxDuration time.Duration // single cap for no-motion stop and hard stop
}

// AudioSettings contains microphone capture settings.
type AudioSettings struct {
	Enabled     bool
	Source      string // capture device name or ID, empty for system default
	SampleRate  int
	Channels    int
	JoinTimeout time.Duration // bounded wait for the capture goroutine on stop
	BufferSize  int           // ring buffer size in bytes
}

// MediaSettings contains ffmpeg/ffprobe settings.
type MediaSettings struct {
	FfmpegPath    string // explicit ffmpeg path, empty searches PATH
	FfprobePath   string
	EmbedMetadata bool // embed position/size JSON into the comment tag
	Timeout       time.Duration
}

// MonitorSettings contains event monitor settings.
type MonitorSettings struct {
	PollInterval time.Duration
	WaitCycles   int // poll cycles to wait for a recording result
	QueueSize    int
}

// ClassifierSettings contains object classifier settings.
type ClassifierSettings struct {
	Enabled   bool
	ModelPath string  // ONNX detector model
	Threshold float32 // minimum score
	InputSize int     // square network input size
}

// UploadSettings contains remote storage settings.
type UploadSettings struct {
	Enabled         bool
	CredentialsFile string // service account or OAuth token JSON
	FolderID        string // Drive folder to upload into
	Timeout         time.Duration
}

// RetentionSettings controls pruning of old recordings and stills.
type RetentionSettings struct {
	Policy   string        // none, age or usage
	MaxAge   time.Duration // age policy
	MaxUsage string        // usage policy, "80%"
	MinFiles int           // newest files kept per directory
	Interval time.Duration
}

// StorageSettings contains local archive and disk guard settings.
type StorageSettings struct {
	ArchivePath string
	MaxUsage    string // "85%", recording is skipped above this
	Upload      UploadSettings
	Retention   RetentionSettings
}

// NotificationSettings contains shoutrrr notification settings.
type NotificationSettings struct {
	Enabled  bool
	URLs     []string
	Title    string
	Capacity float64 // token bucket capacity
	Rate     float64 // tokens per second
	Timeout  time.Duration
}

// SQLiteSettings contains settings for the SQLite database.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL database.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the event database.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings contains settings for publishing processed events.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	Username string
	Password string
	Retain   bool
}

// WebServerSettings contains settings for the control API.
type WebServerSettings struct {
	Enabled bool
	Listen  string
}

// TelemetrySettings contains Prometheus endpoint settings.
type TelemetrySettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings contains error telemetry settings.
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// Settings contains all configuration options for the application.
type Settings struct {
	Debug bool

	Version   string `mapstructure:"-" yaml:"-"`
	BuildDate string `mapstructure:"-" yaml:"-"`

	Main struct {
		Name   string // node name, included in notifications and MQTT payloads
		UserID string // owner whose preferences drive notifications
	}

	Logging      logger.LoggingConfig
	Sentry       SentrySettings
	Camera       CameraSettings
	Motion       MotionSettings
	Recording    RecordingSettings
	Audio        AudioSettings
	Media        MediaSettings
	Monitor      MonitorSettings
	Classifier   ClassifierSettings
	Storage      StorageSettings
	Notification NotificationSettings
	Output       OutputSettings
	MQTT         MQTTSettings
	WebServer    WebServerSettings
	Telemetry    TelemetrySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("MOTIONCAM")
	viper.AutomaticEnv()

	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings writes the current settings back to the config file in use.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	if settingsInstance == nil {
		return fmt.Errorf("settings not loaded")
	}
	settingsCopy := *settingsInstance
	settingsCopy.Notification.URLs = append([]string(nil), settingsInstance.Notification.URLs...)

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	GetLogger().Info("settings saved", logger.String("path", configPath))
	return nil
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := MoveFile(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
