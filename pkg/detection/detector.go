// Package detection wraps object detectors behind a small capability interface
// and narrows their output to the one class hullwatch cares about.
package detection

import (
	"context"
	"errors"
	"image"

	"github.com/teslashibe/go-hullwatch/pkg/geometry"
)

// DefaultTargetClass is the class id of the hull number in the trained model.
const DefaultTargetClass = 0

// ErrNoDetector is returned when an adapter is built without a backend.
var ErrNoDetector = errors.New("detection: detector required")

// Detection is one raw detector output.
type Detection struct {
	ClassID    int
	Box        geometry.Box // Center form, pixels
	Confidence float64
}

// Detector is the interface for object detection backends
type Detector interface {
	// Detect finds objects in the image. Order is backend defined.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)

	// Close releases resources
	Close() error
}

// Adapter restricts a Detector to a single target class and drops
// degenerate boxes before they reach the frame processor.
type Adapter struct {
	detector    Detector
	targetClass int
}

// NewAdapter wraps d so that only boxes of targetClass come out.
func NewAdapter(d Detector, targetClass int) (*Adapter, error) {
	if d == nil {
		return nil, ErrNoDetector
	}
	return &Adapter{detector: d, targetClass: targetClass}, nil
}

// TargetClass returns the class id the adapter keeps.
func (a *Adapter) TargetClass() int {
	return a.targetClass
}

// Boxes runs the detector and returns the target-class boxes in detector order.
func (a *Adapter) Boxes(ctx context.Context, img image.Image) ([]geometry.Box, error) {
	dets, err := a.detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return FilterClass(dets, a.targetClass), nil
}

// Close releases the wrapped detector.
func (a *Adapter) Close() error {
	return a.detector.Close()
}

// FilterClass keeps valid boxes of the given class, preserving order.
func FilterClass(dets []Detection, classID int) []geometry.Box {
	var boxes []geometry.Box
	for _, d := range dets {
		if d.ClassID != classID || !d.Box.Valid() {
			continue
		}
		boxes = append(boxes, d.Box)
	}
	return boxes
}
