// Package tesseract reads text with a local Tesseract install via gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/teslashibe/go-hullwatch/pkg/ocr"
)

// Config holds Tesseract settings.
type Config struct {
	Languages []string // e.g. "eng"
	// Whitelist restricts recognized characters; empty keeps Tesseract defaults.
	Whitelist string
}

// DefaultConfig suits painted alphanumeric hull numbers.
func DefaultConfig() Config {
	return Config{
		Languages: []string{"eng"},
		Whitelist: "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-",
	}
}

// Recognizer wraps a single gosseract client. Calls are serialized.
type Recognizer struct {
	mu     sync.Mutex
	client *gosseract.Client
}

var _ ocr.Recognizer = (*Recognizer)(nil)

// New creates the Tesseract client. Call Close to release it.
func New(cfg Config) (*Recognizer, error) {
	client := gosseract.NewClient()

	if len(cfg.Languages) > 0 {
		if err := client.SetLanguage(cfg.Languages...); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract: set language: %w", err)
		}
	}
	// A crop holds a single painted line.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract: set page segmentation mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("tesseract: set whitelist: %w", err)
		}
	}

	return &Recognizer{client: client}, nil
}

// Recognize returns one fragment per recognized word, in reading order.
func (r *Recognizer) Recognize(_ context.Context, img image.Image) ([]ocr.Fragment, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("tesseract: encode crop: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("tesseract: set image: %w", err)
	}

	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognize: %w", err)
	}

	frags := make([]ocr.Fragment, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		// gosseract reports confidence in percent.
		frags = append(frags, ocr.Fragment{Text: word, Confidence: b.Confidence / 100})
	}
	return frags, nil
}

// Close releases the Tesseract client.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client.Close()
}
