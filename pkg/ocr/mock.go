package ocr

import (
	"context"
	"image"
	"sync"
)

// Mock implements Recognizer for testing.
type Mock struct {
	// RecognizeFunc is called when Recognize is invoked. A nil func reads nothing.
	RecognizeFunc func(ctx context.Context, img image.Image) ([]Fragment, error)

	mu     sync.Mutex
	inputs []image.Rectangle
	closed bool
}

// Static returns a mock that always reads the given texts.
func Static(texts ...string) *Mock {
	frags := make([]Fragment, len(texts))
	for i, t := range texts {
		frags[i] = Fragment{Text: t, Confidence: 1}
	}
	return &Mock{
		RecognizeFunc: func(ctx context.Context, img image.Image) ([]Fragment, error) {
			return frags, nil
		},
	}
}

// Recognize calls RecognizeFunc and records the crop bounds.
func (m *Mock) Recognize(ctx context.Context, img image.Image) ([]Fragment, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, img.Bounds())
	m.mu.Unlock()

	if m.RecognizeFunc == nil {
		return nil, nil
	}
	return m.RecognizeFunc(ctx, img)
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Inputs returns the bounds of every image passed to Recognize.
func (m *Mock) Inputs() []image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]image.Rectangle, len(m.inputs))
	copy(out, m.inputs)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
