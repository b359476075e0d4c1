// Package classifier labels objects in motion stills.
package classifier

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the classifier package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("classifier")
}
