// Package processor turns one frame into a detection result: it finds hull
// boxes, annotates a copy of the frame and reads the text of the first box.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/fogleman/gg"

	"github.com/teslashibe/go-hullwatch/internal/observe"
	"github.com/teslashibe/go-hullwatch/pkg/capture"
	"github.com/teslashibe/go-hullwatch/pkg/detection"
	"github.com/teslashibe/go-hullwatch/pkg/geometry"
	"github.com/teslashibe/go-hullwatch/pkg/ocr"
)

// Adapter names used in errors, logs and metrics.
const (
	AdapterDetector   = "detector"
	AdapterRecognizer = "recognizer"
)

// ErrNoRecognizer is returned by New when no recognizer is given.
var ErrNoRecognizer = errors.New("processor: recognizer required")

// AdapterError wraps a failure of the detector or recognizer for one frame.
type AdapterError struct {
	Adapter string
	Frame   int
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s failed on frame %d: %v", e.Adapter, e.Frame, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Record is the externalized form of one detected box. Only the left edge,
// the bottom edge and the size are reported.
type Record struct {
	XMin   int `json:"xmin"`
	YMax   int `json:"ymax"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRecord converts a center-form box to a Record.
func NewRecord(b geometry.Box) Record {
	c := b.Corners()
	return Record{
		XMin:   c.XMin,
		YMax:   c.YMax,
		Width:  int(b.W),
		Height: int(b.H),
	}
}

// Result is the outcome of processing one frame that had detections.
type Result struct {
	FrameIndex int
	Boxes      []geometry.Box
	Records    []Record
	Text       string      // Joined OCR text of the first box, or ocr.NoText
	Annotated  image.Image // Copy of the frame with every box drawn
}

// HasText reports whether the recognizer read anything.
func (r *Result) HasText() bool {
	return r != nil && r.Text != ocr.NoText
}

// Config holds drawing and observability settings.
type Config struct {
	BoxColor  color.Color
	LineWidth float64
	Logger    *slog.Logger
	Metrics   *observe.Metrics
}

// Option configures a Processor.
type Option func(*Config)

// WithBoxColor sets the annotation stroke color.
func WithBoxColor(c color.Color) Option {
	return func(cfg *Config) { cfg.BoxColor = c }
}

// WithLineWidth sets the annotation stroke width in pixels.
func WithLineWidth(w float64) Option {
	return func(cfg *Config) { cfg.LineWidth = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(cfg *Config) { cfg.Metrics = m }
}

func defaultConfig() Config {
	return Config{
		BoxColor:  color.RGBA{G: 255, A: 255},
		LineWidth: 2,
	}
}

// Processor runs the detector and recognizer over frames. It owns both
// adapters and releases them on Close.
type Processor struct {
	detector   *detection.Adapter
	recognizer ocr.Recognizer
	cfg        Config
	logger     *slog.Logger
	metrics    *observe.Metrics
}

// New creates a Processor.
func New(det *detection.Adapter, rec ocr.Recognizer, opts ...Option) (*Processor, error) {
	if det == nil {
		return nil, detection.ErrNoDetector
	}
	if rec == nil {
		return nil, ErrNoRecognizer
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Noop()
	}

	return &Processor{
		detector:   det,
		recognizer: rec,
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "processor"),
		metrics:    cfg.Metrics,
	}, nil
}

// Process runs detection on frame. It returns (nil, nil) when no target box
// was found. The input image is never modified.
func (p *Processor) Process(ctx context.Context, frame capture.Frame) (*Result, error) {
	start := time.Now()
	defer func() {
		p.metrics.ProcessDuration.Record(ctx, time.Since(start).Seconds())
	}()

	boxes, err := p.detector.Boxes(ctx, frame.Image)
	if err != nil {
		p.metrics.RecordAdapterError(ctx, AdapterDetector)
		return nil, &AdapterError{Adapter: AdapterDetector, Frame: frame.Index, Err: err}
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	p.metrics.Detections.Add(ctx, int64(len(boxes)))

	records := make([]Record, len(boxes))
	for i, b := range boxes {
		records[i] = NewRecord(b)
	}

	text, err := p.readFirst(ctx, frame, boxes[0])
	if err != nil {
		p.metrics.RecordAdapterError(ctx, AdapterRecognizer)
		return nil, &AdapterError{Adapter: AdapterRecognizer, Frame: frame.Index, Err: err}
	}

	p.logger.Debug("frame processed",
		"frame", frame.Index,
		"boxes", len(boxes),
		"text", text,
	)

	return &Result{
		FrameIndex: frame.Index,
		Boxes:      boxes,
		Records:    records,
		Text:       text,
		Annotated:  p.annotate(frame.Image, boxes),
	}, nil
}

// readFirst crops box from the original frame and recognizes it.
func (p *Processor) readFirst(ctx context.Context, frame capture.Frame, box geometry.Box) (string, error) {
	crop, ok := geometry.Crop(frame.Image, box)
	if !ok {
		p.logger.Debug("first box outside frame", "frame", frame.Index)
		return ocr.NoText, nil
	}

	frags, err := p.recognizer.Recognize(ctx, crop)
	if err != nil {
		return "", err
	}
	return ocr.Join(frags), nil
}

// annotate draws every box onto a copy of img.
func (p *Processor) annotate(img image.Image, boxes []geometry.Box) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(p.cfg.BoxColor)
	dc.SetLineWidth(p.cfg.LineWidth)

	// gg draws in image-local coordinates starting at 0,0.
	origin := img.Bounds().Min
	for _, b := range boxes {
		c := b.Corners()
		dc.DrawRectangle(
			float64(c.XMin-origin.X),
			float64(c.YMin-origin.Y),
			float64(c.Width()),
			float64(c.Height()),
		)
		dc.Stroke()
	}
	return dc.Image()
}

// Close releases the detector and recognizer.
func (p *Processor) Close() error {
	return errors.Join(p.detector.Close(), p.recognizer.Close())
}
