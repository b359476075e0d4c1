// Package camera implements the capture and recording state machine of the motion camera.
//
// A Camera consumes frames one at a time on its capture goroutine, runs motion detection
// through a motion.Dispatcher, and manages at most one recording session. Finished sessions
// are muxed with their audio on a separate goroutine; detected events are handed to the
// event monitor over a buffered channel together with a single-slot readiness gate.
package camera

import "github.com/tphakala/motioncam/internal/logger"

// GetLogger returns the camera module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("camera")
}
