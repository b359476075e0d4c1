package camera

import (
	"path/filepath"
	"time"
)

// RecordingSession is one audio/video recording. Paths share a common base name.
type RecordingSession struct {
	ID         string
	VideoPath  string // silent video written by the sink
	AudioPath  string // WAV written on stop
	OutputPath string // muxed result
	StartedAt  time.Time

	state atomicState
}

func newSession(id, dir string, startedAt time.Time) *RecordingSession {
	base := filepath.Join(dir, "motion_"+startedAt.Format("20060102_150405")+"_"+id[:8])
	s := &RecordingSession{
		ID:         id,
		VideoPath:  base + ".mp4",
		AudioPath:  base + "_raw.wav",
		OutputPath: base + "_combined.mp4",
		StartedAt:  startedAt,
	}
	s.state.Store(StateRecording)
	return s
}

// State returns the session state.
func (s *RecordingSession) State() RecordingState {
	return s.state.Load()
}

// RecordingResult is the outcome of a finished session, kept for the event monitor.
type RecordingResult struct {
	ID         string
	State      RecordingState
	OutputPath string // empty unless State is StateReady
	Err        error
	FinishedAt time.Time
}
