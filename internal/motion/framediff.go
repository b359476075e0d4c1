package motion

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
)

const (
	frameDiffBlur   = 3
	frameDiffKernel = 5
)

// FrameDiff computes the three-frame difference mask used to confirm every strategy.
// The newest frame is compared with both older ones and the differences are OR-ed, thresholded
// and dilated to close gaps.
type FrameDiff struct {
	threshold  float32
	iterations int
	kernel     gocv.Mat
}

// NewFrameDiff creates a frame differencer. Call Close when done.
func NewFrameDiff(cfg conf.FrameDiffSettings) *FrameDiff {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 40
	}
	iterations := cfg.DilateIterations
	if iterations < 0 {
		iterations = 0
	}
	return &FrameDiff{
		threshold:  threshold,
		iterations: iterations,
		kernel:     gocv.GetStructuringElement(gocv.MorphRect, image.Pt(frameDiffKernel, frameDiffKernel)),
	}
}

// Mask returns the binary difference mask and true, or an empty Mat and false when the history
// is not warmed up. The caller closes the returned Mat.
func (fd *FrameDiff) Mask(h *History) (gocv.Mat, bool) {
	if h == nil || !h.Ready() {
		return gocv.NewMat(), false
	}

	current := blurred(h.At(0))
	defer current.Close()
	prev1 := blurred(h.At(1))
	defer prev1.Close()
	prev2 := blurred(h.At(2))
	defer prev2.Close()

	diff1 := gocv.NewMat()
	defer diff1.Close()
	diff2 := gocv.NewMat()
	defer diff2.Close()
	gocv.AbsDiff(prev1, current, &diff1)
	gocv.AbsDiff(prev2, current, &diff2)

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.BitwiseOr(diff1, diff2, &merged)

	mask := gocv.NewMat()
	gocv.Threshold(merged, &mask, fd.threshold, 255, gocv.ThresholdBinary)
	for range fd.iterations {
		gocv.Dilate(mask, &mask, fd.kernel)
	}
	return mask, true
}

// Close releases the dilation kernel.
func (fd *FrameDiff) Close() error {
	return fd.kernel.Close()
}

func blurred(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(frameDiffBlur, frameDiffBlur), 0, 0, gocv.BorderDefault)
	return dst
}
