// Package opencv reads frames from RTSP streams, video files or devices
// through gocv.VideoCapture.
package opencv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-hullwatch/pkg/capture"
)

// Backend timeouts. A stalled stream makes Read return false after
// ReadTimeout, which ends the run.
const (
	OpenTimeout = 10 * time.Second
	ReadTimeout = 5 * time.Second
)

// CAP_PROP_OPEN_TIMEOUT_MSEC and CAP_PROP_READ_TIMEOUT_MSEC. Honored by the
// FFmpeg and GStreamer backends when passed at open time.
const (
	propOpenTimeoutMsec gocv.VideoCaptureProperties = 53
	propReadTimeoutMsec gocv.VideoCaptureProperties = 54
)

// grabber is the part of *gocv.VideoCapture the source uses.
type grabber interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Source wraps a single VideoCapture handle. Close never waits for a Read
// in progress; the handle is released when that Read returns.
type Source struct {
	mu       sync.Mutex // held for the duration of a Read
	cap      grabber
	mat      gocv.Mat
	released bool

	closed atomic.Bool
	logger *slog.Logger
}

var _ capture.Source = (*Source)(nil)

// Open opens uri. A numeric uri selects a local device.
func Open(uri string, logger *slog.Logger) (*Source, error) {
	var device interface{} = uri
	if id, err := strconv.Atoi(uri); err == nil {
		device = id
	}

	params := []gocv.VideoCaptureProperties{
		propOpenTimeoutMsec, gocv.VideoCaptureProperties(OpenTimeout.Milliseconds()),
		propReadTimeoutMsec, gocv.VideoCaptureProperties(ReadTimeout.Milliseconds()),
	}
	vc, err := gocv.OpenVideoCaptureWithAPIParams(device, gocv.VideoCaptureAny, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s did not open", capture.ErrSourceUnavailable, uri)
	}

	return newSource(vc, logger), nil
}

func newSource(g grabber, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cap:    g,
		mat:    gocv.NewMat(),
		logger: logger.With("component", "capture.opencv"),
	}
}

// Opener returns a capture.Opener backed by Open.
func Opener(logger *slog.Logger) capture.Opener {
	return func(_ context.Context, uri string) (capture.Source, error) {
		return Open(uri, logger)
	}
}

// Read grabs and decodes the next frame. The returned image is a copy
// and stays valid after the next Read.
func (s *Source) Read() (image.Image, bool) {
	if s.closed.Load() {
		return nil, false
	}

	s.mu.Lock()
	defer func() {
		if s.closed.Load() {
			s.releaseLocked()
		}
		s.mu.Unlock()
	}()

	if s.released {
		return nil, false
	}
	if !s.cap.Read(&s.mat) || s.closed.Load() || s.mat.Empty() {
		return nil, false
	}

	img, err := s.mat.ToImage()
	if err != nil {
		s.logger.Warn("frame conversion failed", "error", err)
		return nil, false
	}
	return img, true
}

// Close marks the source closed and releases the capture handle, or leaves
// that to the Read in progress. Safe to call more than once.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.mu.TryLock() {
		s.logger.Debug("close deferred to in-flight read")
		return nil
	}
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Source) releaseLocked() error {
	if s.released {
		return nil
	}
	s.released = true
	s.mat.Close()
	return s.cap.Close()
}
