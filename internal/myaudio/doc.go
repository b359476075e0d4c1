// Package myaudio captures microphone audio while a recording is active.
//
// A Source delivers interleaved signed 16-bit PCM from a driver thread into a ring buffer.
// The Recorder drains the ring into an in-memory clip from its own goroutine and, on Stop,
// returns the clip for WAV encoding and muxing with the video.
package myaudio
