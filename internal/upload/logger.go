// Package upload moves finished recordings to remote storage or the local archive.
package upload

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the upload package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("upload")
}
