package camera

import "sync/atomic"

// RecordingState is the lifecycle state of the most recent recording session.
type RecordingState int32

const (
	StateIdle RecordingState = iota
	StateRecording
	StateStopping
	StateMuxing
	StateReady
	StateError
)

func (s RecordingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateMuxing:
		return "muxing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether a session is still capturing.
func (s RecordingState) Active() bool {
	return s == StateRecording || s == StateStopping
}

// Finished reports whether a session reached a terminal state.
func (s RecordingState) Finished() bool {
	return s == StateReady || s == StateError
}

// atomicState is readable without the lifecycle lock; writes happen under it.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() RecordingState {
	return RecordingState(a.v.Load())
}

func (a *atomicState) Store(s RecordingState) {
	a.v.Store(int32(s))
}

func (a *atomicState) CompareAndSwap(old, next RecordingState) bool {
	return a.v.CompareAndSwap(int32(old), int32(next))
}

// Lifecycle is the capture lifecycle of a camera.
type Lifecycle string

const (
	LifecycleOff       Lifecycle = "off"
	LifecycleWarmingUp Lifecycle = "warming_up"
	LifecycleReady     Lifecycle = "ready"
)
