package motion

import (
	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
)

const (
	chromaEpsilon = 1e-6
	// Lower bounds for the per-pixel standard deviation, in units of the normalised frame.
	chromaMinSigma = 0.03
	edgeMinSigma   = 0.02
)

// runningGaussian is a per-pixel exponentially weighted mean and variance.
type runningGaussian struct {
	rate     float64
	minSigma float64
	mean     gocv.Mat
	variance gocv.Mat
	floor    gocv.Mat
	ready    bool
}

func newRunningGaussian(rate, minSigma float64) *runningGaussian {
	return &runningGaussian{rate: rate, minSigma: minSigma}
}

// update classifies x against the model, returning a mask of pixels whose squared deviation
// exceeds k squared times the variance, then folds x into the model.
func (g *runningGaussian) update(x gocv.Mat, k float64) gocv.Mat {
	if !g.ready {
		g.mean = x.Clone()
		v := g.minSigma * g.minSigma
		g.floor = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, 0, 0, 0), x.Rows(), x.Cols(), gocv.MatTypeCV32F)
		g.variance = g.floor.Clone()
		g.ready = true
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), x.Rows(), x.Cols(), gocv.MatTypeCV8U)
	}

	deviation := gocv.NewMat()
	defer deviation.Close()
	gocv.AbsDiff(x, g.mean, &deviation)

	squared := gocv.NewMat()
	defer squared.Close()
	gocv.Multiply(deviation, deviation, &squared)

	limit := g.variance.Clone()
	defer limit.Close()
	limit.MultiplyFloat(float32(k * k))

	mask := gocv.NewMat()
	gocv.Compare(squared, limit, &mask, gocv.CompareGT)

	gocv.AddWeighted(g.mean, 1-g.rate, x, g.rate, 0, &g.mean)
	gocv.AddWeighted(g.variance, 1-g.rate, squared, g.rate, 0, &g.variance)
	gocv.Max(g.variance, g.floor, &g.variance)

	return mask
}

func (g *runningGaussian) reset() {
	if !g.ready {
		return
	}
	g.mean.Close()
	g.variance.Close()
	g.floor.Close()
	g.ready = false
}

// ChromaEdgeModel is an adaptive background model over normalised chromaticity and image
// gradients. A pixel is foreground when any chromaticity channel deviates more than
// ChromaThreshold standard deviations or any gradient deviates more than EdgeThreshold. The
// result is OR-ed with the frame difference mask.
type ChromaEdgeModel struct {
	settings conf.ChromaEdgeSettings
	diff     *FrameDiff
	chroma   [2]*runningGaussian // R/G, B/G
	edges    [2]*runningGaussian // d/dx, d/dy
}

// NewChromaEdgeModel creates a chromaticity/edge strategy.
func NewChromaEdgeModel(cfg conf.MotionSettings) *ChromaEdgeModel {
	settings := cfg.ChromaEdge
	if settings.Alpha <= 0 || settings.Alpha >= 1 {
		settings.Alpha = 0.8
	}
	if settings.Beta <= 0 || settings.Beta >= 1 {
		settings.Beta = 0.1
	}
	if settings.ChromaThreshold <= 0 {
		settings.ChromaThreshold = 3
	}
	if settings.EdgeThreshold <= 0 {
		settings.EdgeThreshold = 1
	}

	m := &ChromaEdgeModel{
		settings: settings,
		diff:     NewFrameDiff(cfg.FrameDiff),
	}
	for i := range m.chroma {
		m.chroma[i] = newRunningGaussian(settings.Alpha, chromaMinSigma)
		m.edges[i] = newRunningGaussian(settings.Beta, edgeMinSigma)
	}
	return m
}

// Mode implements Strategy.
func (m *ChromaEdgeModel) Mode() Mode { return ModeChromaticityEdge }

// Detect implements Strategy. The colour frame feeds the model, the history feeds the
// frame difference confirmation.
func (m *ChromaEdgeModel) Detect(frame gocv.Mat, history *History) (Result, error) {
	if history == nil || !history.Ready() || frame.Empty() || frame.Channels() != 3 {
		return Result{}, nil
	}

	diffMask, ok := m.diff.Mask(history)
	if !ok {
		diffMask.Close()
		return Result{}, nil
	}

	foreground := m.foreground(frame)
	defer foreground.Close()

	diffSized := matchSize(diffMask, foreground)
	defer diffSized.Close()
	diffMask.Close()

	mask := gocv.NewMat()
	gocv.BitwiseOr(foreground, diffSized, &mask)
	return newResult(mask), nil
}

// foreground updates the models with frame and returns the combined foreground mask.
func (m *ChromaEdgeModel) foreground(frame gocv.Mat) gocv.Mat {
	normalised := gocv.NewMat()
	defer normalised.Close()
	frame.ConvertToWithParams(&normalised, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	channels := gocv.Split(normalised) // B, G, R
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	green := channels[1].Clone()
	defer green.Close()
	green.AddFloat(chromaEpsilon)

	red := gocv.NewMat()
	defer red.Close()
	blue := gocv.NewMat()
	defer blue.Close()
	gocv.Divide(channels[2], green, &red)
	gocv.Divide(channels[0], green, &blue)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(normalised, &gray, gocv.ColorBGRToGray)

	// central differences, matching a [-1 0 1]/2 kernel
	gradX := gocv.NewMat()
	defer gradX.Close()
	gradY := gocv.NewMat()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV32F, 1, 0, 1, 0.5, 0, gocv.BorderReplicate)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV32F, 0, 1, 1, 0.5, 0, gocv.BorderReplicate)

	masks := []gocv.Mat{
		m.chroma[0].update(red, m.settings.ChromaThreshold),
		m.chroma[1].update(blue, m.settings.ChromaThreshold),
		m.edges[0].update(gradX, m.settings.EdgeThreshold),
		m.edges[1].update(gradY, m.settings.EdgeThreshold),
	}

	out := masks[0]
	for _, other := range masks[1:] {
		gocv.BitwiseOr(out, other, &out)
		other.Close()
	}
	return out
}

// Reset drops the chromaticity and edge models.
func (m *ChromaEdgeModel) Reset() {
	for i := range m.chroma {
		m.chroma[i].reset()
		m.edges[i].reset()
	}
}

// Close releases the models.
func (m *ChromaEdgeModel) Close() error {
	m.Reset()
	return m.diff.Close()
}
