package motion

import (
	"image"

	"gocv.io/x/gocv"
)

// Region is the largest connected foreground area of a mask.
type Region struct {
	Box  image.Rectangle
	Area float64
}

// LargestRegion binarises mask at threshold and returns the largest external contour whose
// area is at least minArea.
func LargestRegion(mask gocv.Mat, threshold float32, minArea float64) (Region, bool) {
	if mask.Empty() {
		return Region{}, false
	}

	gray := toGray(mask)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := Region{}
	found := false
	for i := range contours.Size() {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < minArea {
			continue
		}
		if !found || area > best.Area {
			best = Region{Box: gocv.BoundingRect(c), Area: area}
			found = true
		}
	}
	return best, found
}

// IsSubstantial reports whether box is wider and taller than relative times the frame size.
func IsSubstantial(box image.Rectangle, frameWidth, frameHeight int, relative float64) bool {
	return float64(box.Dx()) > float64(frameWidth)*relative &&
		float64(box.Dy()) > float64(frameHeight)*relative
}
