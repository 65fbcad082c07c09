// Package ocr wraps text recognizers behind a capability interface.
package ocr

import (
	"context"
	"image"
	"strings"
)

// NoText is the text value reported when a crop yields nothing readable.
const NoText = "None"

// Fragment is one piece of recognized text.
type Fragment struct {
	Text       string
	Confidence float64
}

// Recognizer reads text from a cropped image.
// An empty result means "no text" and is not an error.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]Fragment, error)
	Close() error
}

// Join concatenates fragments with single spaces and trims the result.
// An empty result becomes NoText.
func Join(frags []Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(f.Text)
		b.WriteByte(' ')
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return NoText
	}
	return text
}
