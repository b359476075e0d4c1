package classifier

import (
	"context"
	"image"
)

// ObjectType is the coarse category stored for a detection.
type ObjectType string

const (
	ObjectHuman  ObjectType = "Human"
	ObjectAnimal ObjectType = "Animal"
)

// DefaultThreshold is the minimum score for a detection to be kept.
const DefaultThreshold = 0.4

// tracked maps detector labels to the categories that are kept.
var tracked = map[string]ObjectType{
	"person": ObjectHuman,
	"dog":    ObjectAnimal,
	"cat":    ObjectAnimal,
}

// Detection is one classified object in an image.
type Detection struct {
	Label      string
	Type       ObjectType
	Confidence float32
	Box        image.Rectangle
}

// Classifier labels the objects in a still image.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) ([]Detection, error)
	Close() error
}

// TypeOf returns the category for a detector label and whether the label is tracked.
func TypeOf(label string) (ObjectType, bool) {
	t, ok := tracked[label]
	return t, ok
}

// Noop returns no detections. Used when no model is configured.
type Noop struct{}

// Classify returns nil.
func (Noop) Classify(context.Context, string) ([]Detection, error) { return nil, nil }

// Close does nothing.
func (Noop) Close() error { return nil }
