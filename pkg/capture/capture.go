// Package capture defines the frame source the stream controller reads from.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// ErrSourceUnavailable is returned when a source cannot be opened.
var ErrSourceUnavailable = errors.New("capture: source unavailable")

// Frame is one decoded video frame.
type Frame struct {
	// Index is the monotonic sequence number, starting at 1.
	Index int
	// Image holds the pixels. Consumers must not modify it.
	Image     image.Image
	Timestamp time.Time
}

// Source yields frames in order. ok=false means end of stream or a read
// failure; either way the run stops.
type Source interface {
	Read() (img image.Image, ok bool)
	Close() error
}

// Opener opens a source from a locator (RTSP URL, file path, directory...).
type Opener func(ctx context.Context, uri string) (Source, error)

// SliceSource replays a fixed list of images. Used for tests and short clips.
type SliceSource struct {
	mu     sync.Mutex
	images []image.Image
	next   int
	closed bool
}

// NewSliceSource returns a source over images.
func NewSliceSource(images ...image.Image) *SliceSource {
	return &SliceSource{images: images}
}

// Blank returns a source of n identical blank frames of the given size.
func Blank(n, w, h int) *SliceSource {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	images := make([]image.Image, n)
	for i := range images {
		images[i] = img
	}
	return NewSliceSource(images...)
}

// Read returns the next image until the list is exhausted or the source is closed.
func (s *SliceSource) Read() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.images) {
		return nil, false
	}
	img := s.images[s.next]
	s.next++
	return img, true
}

// Close stops the source.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Static returns an Opener that always hands out src.
func Static(src Source) Opener {
	return func(context.Context, string) (Source, error) {
		return src, nil
	}
}

// Unavailable returns an Opener that always fails with ErrSourceUnavailable.
func Unavailable() Opener {
	return func(context.Context, string) (Source, error) {
		return nil, ErrSourceUnavailable
	}
}
