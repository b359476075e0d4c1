// Package conf provides configuration management for motioncam.
package conf

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the config package logger.
// The logger is fetched from the global logger each time so it follows SetGlobal.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
