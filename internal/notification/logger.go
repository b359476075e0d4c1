// Package notification sends motion alerts through shoutrrr, throttled by a token bucket.
package notification

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the notification package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}
