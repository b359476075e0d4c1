// Package motion implements the motion detection strategies and the dispatcher that routes
// frames to the active one.
//
// Every strategy is paired with three-frame differencing. The background model ANDs its
// foreground with the difference mask, the point tracker and the chromaticity/edge model OR
// theirs. All of them return a single-channel binary mask so the caller can extract regions
// the same way regardless of the mode.
package motion

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the motion package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("motion")
}
