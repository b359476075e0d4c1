// Package media wraps the ffmpeg and ffprobe command line tools: muxing a silent recording with
// its audio track, embedding event metadata and reading it back.
package media

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the media module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("media")
}
