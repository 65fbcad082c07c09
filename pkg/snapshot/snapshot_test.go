package snapshot

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/teslashibe/go-hullwatch/internal/log"
)

func TestFilename(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	if got := Filename(50, ts); got != "frame_50_1700000000.jpg" {
		t.Errorf("Filename = %q", got)
	}
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := New(dir, log.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Unix(42, 0) }

	path, err := s.Save(7, image.NewRGBA(image.Rect(0, 0, 16, 8)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "frame_7_42.jpg" {
		t.Errorf("unexpected path %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("unexpected size %v", img.Bounds())
	}
}

func TestNew_BadDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(filepath.Join(file, "sub"), log.Discard()); err == nil {
		t.Error("expected error when parent is a file")
	}
}
