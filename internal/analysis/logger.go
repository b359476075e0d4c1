// Package analysis wires the capture, detection and event processing components into the
// long running realtime mode and the offline file scan.
package analysis

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}
