package raster

import "image"

// Plane is a single-channel view on a rectangular region of an image buffer.
// Row and column indices passed to its methods are relative to Rect.Min.
type Plane struct {
	Data   []float64
	Stride int
	Rect   image.Rectangle
}

// Width returns the width of the viewed region.
func (p Plane) Width() int { return p.Rect.Dx() }

// Height returns the height of the viewed region.
func (p Plane) Height() int { return p.Rect.Dy() }

// Row returns row y of the region.
func (p Plane) Row(y int) []float64 {
	off := (p.Rect.Min.Y+y)*p.Stride + p.Rect.Min.X
	return p.Data[off : off+p.Rect.Dx()]
}
