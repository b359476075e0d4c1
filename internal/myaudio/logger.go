package myaudio

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the audio package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio")
}
