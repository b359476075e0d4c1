package motion

import (
	"image"

	"gocv.io/x/gocv"
)

// Strategy is a motion detection algorithm.
// Detect receives the colour frame and the grayscale history whose newest entry is the same
// frame. Strategies return a zero Result on an unwarmed history instead of an error.
type Strategy interface {
	Mode() Mode
	Detect(frame gocv.Mat, history *History) (Result, error)
	// Reset drops the strategy's accumulated model.
	Reset()
	Close() error
}

// Refresher is implemented by strategies that keep a long-lived reference that should be
// rebuilt periodically to bound drift.
type Refresher interface {
	Refresh()
}

// Result is the normalised output of a strategy.
type Result struct {
	Motion bool     // the mask has at least one foreground pixel
	Mask   gocv.Mat // single-channel 8-bit binary mask, may be empty
}

// Close releases the mask. Closing a zero Result is a no-op.
func (r *Result) Close() error {
	return r.Mask.Close()
}

func newResult(mask gocv.Mat) Result {
	return Result{
		Motion: !mask.Empty() && gocv.CountNonZero(mask) > 0,
		Mask:   mask,
	}
}

// matchSize resizes src to the size of ref if they differ. The returned Mat is always new.
func matchSize(src, ref gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	if src.Rows() == ref.Rows() && src.Cols() == ref.Cols() {
		src.CopyTo(&dst)
		return dst
	}
	gocv.Resize(src, &dst, image.Pt(ref.Cols(), ref.Rows()), 0, 0, gocv.InterpolationNearestNeighbor)
	return dst
}

// toGray returns a single-channel copy of src.
func toGray(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	switch src.Channels() {
	case 3:
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToGray)
	default:
		src.CopyTo(&dst)
	}
	return dst
}
