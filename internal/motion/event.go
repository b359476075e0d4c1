package motion

import (
	"image"
	"time"
)

// Position is the horizontal half of the frame a motion region sits in.
type Position string

const (
	PositionLeft  Position = "Left"
	PositionRight Position = "Right"
)

// SizeClass is the relative size of a motion region.
type SizeClass string

const (
	SizeSmall SizeClass = "Small"
	SizeLarge SizeClass = "Large"
)

// DefaultSmallAreaPercent is the share of the frame, in percent, below which a region is Small.
const DefaultSmallAreaPercent = 0.05

// EventDescriptor describes one detected motion occurrence with its saved still.
// It is created by the camera and consumed by the event monitor.
type EventDescriptor struct {
	ID          string
	RecordingID string // recording the event belongs to, empty if none was started
	UserID      string
	Mode        Mode
	Position    Position
	Size        SizeClass
	Box         image.Rectangle
	Area        float64
	ImagePath   string
	DetectedAt  time.Time
}

// ClassifyPosition returns Left when the box centre lies left of the frame midpoint.
// A centre exactly on the midpoint is Right.
func ClassifyPosition(box image.Rectangle, frameWidth int) Position {
	center := float64(box.Min.X+box.Max.X) / 2
	if center < float64(frameWidth)/2 {
		return PositionLeft
	}
	return PositionRight
}

// ClassifySize returns Small when area is below smallPercent of the frame area.
// An area exactly at the threshold is Large.
func ClassifySize(area float64, frameWidth, frameHeight int, smallPercent float64) SizeClass {
	frameArea := float64(frameWidth * frameHeight)
	if frameArea <= 0 {
		return SizeLarge
	}
	if smallPercent <= 0 {
		smallPercent = DefaultSmallAreaPercent
	}
	if area/frameArea*100 < smallPercent {
		return SizeSmall
	}
	return SizeLarge
}
