package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel" mapstructure:"defaultlevel"` // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`         // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`           // console output configuration
	FileOutput   *FileOutput       `yaml:"file" mapstructure:"file"`                 // file output configuration
	ModuleLevels map[string]string `yaml:"modulelevels" mapstructure:"modulelevels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; journald or docker adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration.
// File output is JSON with RFC3339 timestamps, rotated by size.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	MaxSize         int    `yaml:"maxsize" mapstructure:"maxsize"`                 // megabytes before rotation
	MaxAge          int    `yaml:"maxage" mapstructure:"maxage"`                   // days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"maxrotatedfiles" mapstructure:"maxrotatedfiles"` // rotated files to keep (0 = no limit)
	Compress        bool   `yaml:"compress" mapstructure:"compress"`               // gzip rotated logs
	Level           string `yaml:"level" mapstructure:"level"`
}

// Default values for logging configuration.
// These match the defaults in conf/defaults.go.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/motioncam.log"
	DefaultMaxSize         = 50
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 5
)

// applyConfigDefaults fills nil configuration sections with defaults.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: true,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: false,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
			MaxSize: DefaultMaxSize,
		}
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
	if cfg.FileOutput.MaxSize <= 0 {
		cfg.FileOutput.MaxSize = DefaultMaxSize
	}
}
