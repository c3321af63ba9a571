package parallel

import "multiscale/pkg/filter"

// Window is the sliding set of source rows a neighborhood filter needs around
// the current output row of a strip. Rows are stored horizontally padded with
// mirrored samples; rows above or below the plane are mirrored vertically.
//
// Window only reads rows that are guaranteed to hold original values: rows
// of the strip below the current output row, rows staged by neighbor strips,
// and, for rows mirrored past the bottom edge, copies it already holds.
type Window struct {
	strip  *Strip
	height int
	radius int
	pad    int
	center int
	rows   [][]float64
}

// NewWindow creates a window of 2*radius+1 rows with pad mirrored samples on
// each side, positioned on the first row of the strip.
func NewWindow(s *Strip, radius, pad int) *Window {
	w := &Window{
		strip:  s,
		height: s.plane.Height(),
		radius: radius,
		pad:    pad,
		center: s.Begin,
		rows:   make([][]float64, 2*radius+1),
	}
	width := s.plane.Width() + 2*pad
	for k := range w.rows {
		w.rows[k] = make([]float64, width)
	}
	for k := range w.rows {
		w.load(k, s.Begin-radius+k)
	}
	return w
}

// Center returns the plane row the window is centered on.
func (w *Window) Center() int { return w.center }

// Pad returns the horizontal padding of every row.
func (w *Window) Pad() int { return w.pad }

// Row returns the padded row at vertical offset dy from the center,
// -radius <= dy <= radius. Sample x of the plane is at index x+Pad().
func (w *Window) Row(dy int) []float64 { return w.rows[dy+w.radius] }

// Advance moves the window one row down. Advancing past the last row of the
// strip is a no-op apart from the center update.
func (w *Window) Advance() {
	w.center++
	if w.center >= w.strip.End {
		return
	}
	first := w.rows[0]
	copy(w.rows, w.rows[1:])
	w.rows[len(w.rows)-1] = first
	w.load(len(w.rows)-1, w.center+w.radius)
}

// load fills slot k with logical row y.
func (w *Window) load(k, y int) {
	dst := w.rows[k]
	if y >= w.height {
		// Mirrored past the bottom edge: the mirror row is already held.
		src := w.rows[filter.Mirror(y, w.height)-(w.center-w.radius)]
		copy(dst, src)
		return
	}
	filter.MirrorRow(dst, w.strip.Source(filter.Mirror(y, w.height)), w.pad)
}
