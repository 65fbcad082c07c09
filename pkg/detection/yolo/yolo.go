// Package yolo runs a YOLOv8 ONNX export through the OpenCV DNN module.
package yolo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-hullwatch/pkg/detection"
	"github.com/teslashibe/go-hullwatch/pkg/geometry"
)

// Config holds YOLO detector configuration
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultConfig returns defaults for the hull-number model
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/hull.onnx",
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector uses YOLOv8 for object detection
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
	logger    *slog.Logger
}

var _ detection.Detector = (*Detector)(nil)

// New loads the model once. Call Close to release it.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("yolo: model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("yolo: failed to load model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		logger:    logger.With("component", "detection.yolo"),
	}, nil
}

// Detect runs one forward pass. The call is not interruptible once started.
func (d *Detector) Detect(_ context.Context, img image.Image) ([]detection.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("yolo: convert image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("yolo: empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	imgW := float32(mat.Cols())
	imgH := float32(mat.Rows())

	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	dets, err := d.parseOutput(output, imgW, imgH)
	if err != nil {
		return nil, err
	}
	if len(dets) > 0 {
		d.logger.Debug("objects found", "count", len(dets))
	}
	return dets, nil
}

// parseOutput decodes a [1, 4+classes, candidates] tensor.
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]detection.Detection, error) {
	size := output.Size()
	if len(size) != 3 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", size)
	}
	attrs, candidates := size[1], size[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	var (
		centers     []geometry.Box
		rects       []image.Rectangle
		confidences []float32
		classIDs    []int
	)

	for i := 0; i < candidates; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < attrs; c++ {
			score := data[c*candidates+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < d.config.ConfidenceThresh {
			continue
		}

		box := geometry.Box{
			CX: float64(data[0*candidates+i] * scaleX),
			CY: float64(data[1*candidates+i] * scaleY),
			W:  float64(data[2*candidates+i] * scaleX),
			H:  float64(data[3*candidates+i] * scaleY),
		}

		centers = append(centers, box)
		rects = append(rects, box.Corners().Rect())
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(rects) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(rects, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	dets := make([]detection.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, detection.Detection{
			ClassID:    classIDs[idx],
			Box:        centers[idx],
			Confidence: float64(confidences[idx]),
		})
	}
	return dets, nil
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
