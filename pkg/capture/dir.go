package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirSource replays the images of a directory in lexical file order.
// Files that fail to decode are skipped with a warning.
type DirSource struct {
	mu     sync.Mutex
	files  []string
	next   int
	closed bool
	logger *slog.Logger
}

// OpenDir lists dir. An unreadable or image-free directory is unavailable.
func OpenDir(dir string, logger *slog.Logger) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, dir)
	}
	sort.Strings(files)

	if logger == nil {
		logger = slog.Default()
	}
	return &DirSource{files: files, logger: logger.With("component", "capture.dir")}, nil
}

// DirOpener opens directory locators with OpenDir.
func DirOpener(logger *slog.Logger) Opener {
	return func(_ context.Context, uri string) (Source, error) {
		return OpenDir(uri, logger)
	}
}

// Read decodes the next file.
func (d *DirSource) Read() (image.Image, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for !d.closed && d.next < len(d.files) {
		path := d.files[d.next]
		d.next++

		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			d.logger.Warn("skipping unreadable frame", "path", path, "error", err)
			continue
		}
		return img, true
	}
	return nil, false
}

// Close stops the source.
func (d *DirSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
