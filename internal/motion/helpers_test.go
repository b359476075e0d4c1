package motion

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
)

const (
	testWidth  = 640
	testHeight = 360
)

func testMotionSettings() conf.MotionSettings {
	return conf.MotionSettings{
		Mode:             string(ModeBackgroundModel),
		Interval:         20,
		ResetInterval:    300,
		RelativeSize:     0.005,
		ContourThreshold: 127,
		MinContourArea:   10,
		SmallAreaPercent: 0.05,
		PreRecordFrames:  40,
		BackgroundModel:  conf.BackgroundModelSettings{History: 400, VarThreshold: 40, MedianBlur: 5},
		PointTracking: conf.PointTrackingSettings{
			Displacement: 2.0, WindowSize: 21, MaxLevel: 3, Iterations: 15, Epsilon: 0.02,
		},
		ChromaEdge: conf.ChromaEdgeSettings{Alpha: 0.8, Beta: 0.1, ChromaThreshold: 3, EdgeThreshold: 1},
		FrameDiff:  conf.FrameDiffSettings{Threshold: 40, DilateIterations: 2},
	}
}

// solidGray returns a single-channel frame filled with value.
func solidGray(t *testing.T, value float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, 0, 0, 0), testHeight, testWidth, gocv.MatTypeCV8U)
	t.Cleanup(func() { m.Close() })
	return m
}

// solidColor returns a BGR frame filled with b, g, r.
func solidColor(t *testing.T, b, g, r float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), testHeight, testWidth, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// withSquare returns a clone of src with a filled white rectangle drawn on it.
func withSquare(t *testing.T, src gocv.Mat, rect image.Rectangle) gocv.Mat {
	t.Helper()
	m := src.Clone()
	gocv.Rectangle(&m, rect, color.RGBA{R: 255, G: 255, B: 255}, -1)
	t.Cleanup(func() { m.Close() })
	return m
}

// historyOf builds a history whose newest frame is the last argument.
func historyOf(t *testing.T, frames ...gocv.Mat) *History {
	t.Helper()
	h := NewHistory()
	for _, f := range frames {
		h.Push(f)
	}
	t.Cleanup(func() { h.Close() })
	return h
}
