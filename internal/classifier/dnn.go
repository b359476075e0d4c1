package classifier

import (
	"context"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	defaultInputSize = 640
	nmsThreshold     = 0.45
	// YOLOv8 rows: cx, cy, w, h followed by one score per class
	boxAttributes = 4
)

// cocoClasses are the 80 COCO class names in model output order.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// DNN runs a YOLOv8 ONNX detector through the OpenCV DNN module.
type DNN struct {
	mu        sync.Mutex
	net       gocv.Net
	inputSize int
	threshold float32
	log       logger.Logger
}

// New returns a DNN classifier, or Noop when classification is disabled.
func New(settings conf.ClassifierSettings) (Classifier, error) {
	if !settings.Enabled || settings.ModelPath == "" {
		return Noop{}, nil
	}
	return NewDNN(settings)
}

// NewDNN loads the model at settings.ModelPath.
func NewDNN(settings conf.ClassifierSettings) (*DNN, error) {
	if _, err := os.Stat(settings.ModelPath); err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Context("model_path", settings.ModelPath).
			Build()
	}

	net := gocv.ReadNetFromONNX(settings.ModelPath)
	if net.Empty() {
		return nil, errors.Newf("failed to load detector model").
			Component("classifier").
			Category(errors.CategoryClassifier).
			Context("model_path", settings.ModelPath).
			Build()
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	inputSize := settings.InputSize
	if inputSize <= 0 {
		inputSize = defaultInputSize
	}
	threshold := settings.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	GetLogger().Info("detector model loaded",
		logger.String("model_path", settings.ModelPath),
		logger.Int("input_size", inputSize),
		logger.Float32("threshold", threshold))

	return &DNN{
		net:       net,
		inputSize: inputSize,
		threshold: threshold,
		log:       GetLogger(),
	}, nil
}

// Classify reads the image and returns the tracked objects found in it.
func (d *DNN) Classify(ctx context.Context, imagePath string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, errors.Newf("cannot read image").
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("image", imagePath).
			Build()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := image.Pt(d.inputSize, d.inputSize)
	blob := gocv.BlobFromImage(img, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] <= boxAttributes {
		return nil, errors.Newf("unexpected detector output shape %v", dims).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Build()
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryClassifier).
			Build()
	}

	cands := decodeYOLOv8(data, dims[1], dims[2], scaleOf(img.Cols(), img.Rows(), d.inputSize), d.threshold)
	detections := suppress(cands, d.threshold)

	d.log.Debug("image classified",
		logger.String("image", imagePath),
		logger.Int("candidates", len(cands)),
		logger.Int("detections", len(detections)))
	return detections, nil
}

// Close releases the network.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}

type scale struct{ x, y float32 }

func scaleOf(width, height, inputSize int) scale {
	return scale{
		x: float32(width) / float32(inputSize),
		y: float32(height) / float32(inputSize),
	}
}

type candidate struct {
	label string
	score float32
	box   image.Rectangle
}

// decodeYOLOv8 reads a [attributes x anchors] tensor, column per anchor, and keeps
// the anchors whose best class is tracked and scores at least threshold.
func decodeYOLOv8(data []float32, attributes, anchors int, s scale, threshold float32) []candidate {
	if len(data) < attributes*anchors {
		return nil
	}

	var out []candidate
	for i := range anchors {
		best, bestClass := float32(0), -1
		for c := boxAttributes; c < attributes; c++ {
			if score := data[c*anchors+i]; score > best {
				best, bestClass = score, c-boxAttributes
			}
		}
		if bestClass < 0 || bestClass >= len(cocoClasses) || best < threshold {
			continue
		}
		label := cocoClasses[bestClass]
		if _, ok := TypeOf(label); !ok {
			continue
		}

		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		out = append(out, candidate{
			label: label,
			score: best,
			box: image.Rect(
				int((cx-w/2)*s.x), int((cy-h/2)*s.y),
				int((cx+w/2)*s.x), int((cy+h/2)*s.y),
			),
		})
	}
	return out
}

// suppress applies non-maximum suppression and converts candidates to detections.
func suppress(cands []candidate, threshold float32) []Detection {
	if len(cands) == 0 {
		return nil
	}
	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.box
		scores[i] = c.score
	}

	indices := gocv.NMSBoxes(boxes, scores, threshold, nmsThreshold)
	detections := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		c := cands[idx]
		t, _ := TypeOf(c.label)
		detections = append(detections, Detection{
			Label:      c.label,
			Type:       t,
			Confidence: c.score,
			Box:        c.box,
		})
	}
	return detections
}
