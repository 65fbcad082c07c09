// Package snapshot writes annotated frames to disk.
package snapshot

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

// DefaultDir is where snapshots go when no directory is configured.
const DefaultDir = "uploads"

// Saver writes frame_{index}_{unix}.jpg files into one directory.
type Saver struct {
	dir     string
	quality int
	now     func() time.Time
	logger  *slog.Logger
}

// New creates dir if needed and returns a Saver for it.
func New(dir string, logger *slog.Logger) (*Saver, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		dir:     dir,
		quality: 95,
		now:     time.Now,
		logger:  logger.With("component", "snapshot"),
	}, nil
}

// Dir returns the output directory.
func (s *Saver) Dir() string {
	return s.dir
}

// Filename returns the file name used for frame index at t.
func Filename(index int, t time.Time) string {
	return fmt.Sprintf("frame_%d_%d.jpg", index, t.Unix())
}

// Save encodes img as JPEG and returns the written path.
func (s *Saver) Save(index int, img image.Image) (string, error) {
	path := filepath.Join(s.dir, Filename(index, s.now()))
	if err := imaging.Save(img, path, imaging.JPEGQuality(s.quality)); err != nil {
		return "", fmt.Errorf("snapshot: save frame %d: %w", index, err)
	}
	s.logger.Debug("snapshot saved", "frame", index, "path", path)
	return path, nil
}
