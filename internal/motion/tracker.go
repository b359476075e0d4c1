package motion

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
)

// point is a tracked feature position.
type point struct {
	X, Y float32
}

var maskWhite = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// PointTracker detects motion by tracking ORB keypoints with pyramidal Lucas-Kanade optical
// flow. Points that moved further than the displacement threshold are painted into the mask,
// which is then OR-ed with the frame difference mask.
type PointTracker struct {
	settings conf.PointTrackingSettings
	orb      gocv.ORB
	criteria gocv.TermCriteria
	diff     *FrameDiff
	points   []point
}

// NewPointTracker creates a point tracking strategy.
func NewPointTracker(cfg conf.MotionSettings) *PointTracker {
	settings := cfg.PointTracking
	if settings.Displacement <= 0 {
		settings.Displacement = 2.0
	}
	if settings.WindowSize <= 0 {
		settings.WindowSize = 21
	}
	if settings.MaxLevel < 0 {
		settings.MaxLevel = 3
	}
	if settings.Iterations <= 0 {
		settings.Iterations = 15
	}
	if settings.Epsilon <= 0 {
		settings.Epsilon = 0.02
	}

	return &PointTracker{
		settings: settings,
		orb:      gocv.NewORB(),
		criteria: gocv.NewTermCriteria(gocv.Count|gocv.EPS, settings.Iterations, settings.Epsilon),
		diff:     NewFrameDiff(cfg.FrameDiff),
	}
}

// Mode implements Strategy.
func (p *PointTracker) Mode() Mode { return ModePointTracking }

// Detect implements Strategy.
func (p *PointTracker) Detect(_ gocv.Mat, history *History) (Result, error) {
	if history == nil || !history.Ready() {
		return Result{}, nil
	}

	diffMask, ok := p.diff.Mask(history)
	if !ok {
		diffMask.Close()
		return Result{}, nil
	}

	current := history.At(0)
	previous := history.At(1)

	if len(p.points) == 0 {
		p.seed(previous)
	}
	if len(p.points) > 0 {
		p.track(previous, current, &diffMask)
	}

	return newResult(diffMask), nil
}

// seed detects keypoints on frame and replaces the tracked set.
func (p *PointTracker) seed(frame gocv.Mat) {
	keypoints := p.orb.Detect(frame)
	p.points = p.points[:0]
	for _, kp := range keypoints {
		p.points = append(p.points, point{X: float32(kp.X), Y: float32(kp.Y)})
	}
}

// track follows the points from prev to next, paints moved points into mask and keeps the
// successfully tracked positions. The set is emptied when no point survives so the next call
// re-seeds.
func (p *PointTracker) track(prev, next gocv.Mat, mask *gocv.Mat) {
	prevPts := gocv.NewMatWithSize(len(p.points), 2, gocv.MatTypeCV32F)
	defer prevPts.Close()
	for i, pt := range p.points {
		prevPts.SetFloatAt(i, 0, pt.X)
		prevPts.SetFloatAt(i, 1, pt.Y)
	}

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	trackErr := gocv.NewMat()
	defer trackErr.Close()

	window := image.Pt(p.settings.WindowSize, p.settings.WindowSize)
	gocv.CalcOpticalFlowPyrLKWithParams(prev, next, prevPts, nextPts, &status, &trackErr,
		window, p.settings.MaxLevel, p.criteria, 0, 1e-4)

	if status.Rows() < len(p.points) || nextPts.Rows() < len(p.points) {
		p.points = p.points[:0]
		return
	}

	radius := max(p.settings.WindowSize/2, 1)
	survivors := p.points[:0]
	for i, old := range p.points {
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		moved := point{X: nextPts.GetFloatAt(i, 0), Y: nextPts.GetFloatAt(i, 1)}
		dx := float64(moved.X - old.X)
		dy := float64(moved.Y - old.Y)
		if math.Hypot(dx, dy) > p.settings.Displacement {
			center := image.Pt(int(moved.X), int(moved.Y))
			gocv.Circle(mask, center, radius, maskWhite, -1)
		}
		survivors = append(survivors, moved)
	}
	p.points = survivors
}

// TrackedPoints returns the number of points currently tracked.
func (p *PointTracker) TrackedPoints() int {
	return len(p.points)
}

// Reset drops the tracked points.
func (p *PointTracker) Reset() {
	p.points = nil
}

// Refresh drops the tracked points so they are re-seeded from the next frame.
func (p *PointTracker) Refresh() {
	p.points = nil
}

// Close releases the detector.
func (p *PointTracker) Close() error {
	p.diff.Close()
	return p.orb.Close()
}
