package detection

import (
	"context"
	"image"
	"sync"
)

// Mock implements Detector for testing.
type Mock struct {
	// DetectFunc is called when Detect is invoked. A nil DetectFunc detects nothing.
	DetectFunc func(ctx context.Context, img image.Image) ([]Detection, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.DetectFunc == nil {
		return nil, nil
	}
	return m.DetectFunc(ctx, img)
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Detect ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
