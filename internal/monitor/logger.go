// Package monitor drains motion events and runs their post-processing pipeline.
package monitor

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the monitor package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("monitor")
}
