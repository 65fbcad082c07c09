// Package geometry converts detector boxes between center and corner form
// and cuts box regions out of frames.
package geometry

import (
	"image"

	"github.com/disintegration/imaging"
)

// Box is a bounding box in center form, in pixel units.
type Box struct {
	CX, CY float64 // Center position
	W, H   float64 // Width and height
}

// Corners is the integer corner form of a Box.
type Corners struct {
	XMin, YMin int
	XMax, YMax int
}

// Valid reports whether the box has a positive width and height, both as
// given and after truncation to integer corners.
func (b Box) Valid() bool {
	if b.W <= 0 || b.H <= 0 {
		return false
	}
	c := b.Corners()
	return c.Width() > 0 && c.Height() > 0
}

// Corners truncates center ± size/2 to integers.
func (b Box) Corners() Corners {
	return Corners{
		XMin: int(b.CX - b.W/2),
		YMin: int(b.CY - b.H/2),
		XMax: int(b.CX + b.W/2),
		YMax: int(b.CY + b.H/2),
	}
}

// ToCorners is a function form of Box.Corners.
func ToCorners(b Box) (xMin, yMin, xMax, yMax int) {
	c := b.Corners()
	return c.XMin, c.YMin, c.XMax, c.YMax
}

// FromCorners rebuilds the center form of a corner rectangle.
func FromCorners(c Corners) Box {
	return Box{
		CX: float64(c.XMin+c.XMax) / 2,
		CY: float64(c.YMin+c.YMax) / 2,
		W:  float64(c.XMax - c.XMin),
		H:  float64(c.YMax - c.YMin),
	}
}

// Rect returns the corner form as an image.Rectangle.
func (c Corners) Rect() image.Rectangle {
	return image.Rect(c.XMin, c.YMin, c.XMax, c.YMax)
}

// Width of the corner rectangle.
func (c Corners) Width() int { return c.XMax - c.XMin }

// Height of the corner rectangle.
func (c Corners) Height() int { return c.YMax - c.YMin }

// Clamp intersects the box's corner rectangle with bounds.
// The result is empty when the box lies fully outside.
func Clamp(b Box, bounds image.Rectangle) image.Rectangle {
	return b.Corners().Rect().Intersect(bounds)
}

// Crop copies the region of img covered by b, clamped to the image bounds.
// ok is false when the clamped region is empty.
func Crop(img image.Image, b Box) (sub *image.NRGBA, ok bool) {
	r := Clamp(b, img.Bounds())
	if r.Empty() {
		return nil, false
	}
	return imaging.Crop(img, r), true
}
