package motion

import (
	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
)

// BackgroundModel detects motion with a MOG2 background subtractor.
// The foreground is AND-ed with the frame difference mask to suppress sensor noise and then
// median filtered.
type BackgroundModel struct {
	settings conf.BackgroundModelSettings
	mog2     gocv.BackgroundSubtractorMOG2
	diff     *FrameDiff
}

// NewBackgroundModel creates a background model strategy.
func NewBackgroundModel(cfg conf.MotionSettings) *BackgroundModel {
	settings := cfg.BackgroundModel
	if settings.History <= 0 {
		settings.History = 400
	}
	if settings.VarThreshold <= 0 {
		settings.VarThreshold = 40
	}
	// median blur needs an odd aperture of at least 3
	if settings.MedianBlur < 3 {
		settings.MedianBlur = 5
	}
	if settings.MedianBlur%2 == 0 {
		settings.MedianBlur++
	}

	return &BackgroundModel{
		settings: settings,
		mog2:     newMOG2(settings),
		diff:     NewFrameDiff(cfg.FrameDiff),
	}
}

func newMOG2(s conf.BackgroundModelSettings) gocv.BackgroundSubtractorMOG2 {
	return gocv.NewBackgroundSubtractorMOG2WithParams(s.History, s.VarThreshold, false)
}

// Mode implements Strategy.
func (b *BackgroundModel) Mode() Mode { return ModeBackgroundModel }

// Detect implements Strategy.
func (b *BackgroundModel) Detect(_ gocv.Mat, history *History) (Result, error) {
	if history == nil || !history.Ready() {
		return Result{}, nil
	}

	foreground := gocv.NewMat()
	defer foreground.Close()
	b.mog2.Apply(history.Current(), &foreground)

	diffMask, ok := b.diff.Mask(history)
	defer diffMask.Close()
	if !ok {
		return Result{}, nil
	}

	diffSized := matchSize(diffMask, foreground)
	defer diffSized.Close()

	combined := gocv.NewMat()
	defer combined.Close()
	gocv.BitwiseAnd(diffSized, foreground, &combined)

	mask := gocv.NewMat()
	gocv.MedianBlur(combined, &mask, b.settings.MedianBlur)

	return newResult(mask), nil
}

// Reset replaces the subtractor with an untrained one.
func (b *BackgroundModel) Reset() {
	b.mog2.Close()
	b.mog2 = newMOG2(b.settings)
}

// Close releases the subtractor.
func (b *BackgroundModel) Close() error {
	b.diff.Close()
	return b.mog2.Close()
}
