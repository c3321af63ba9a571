// Package raster implements the multi-channel floating point image used by the
// filtering engines. An Image owns one row-major []float64 plane per channel
// and carries a selected rectangle, a selected channel range and an optional
// status monitor. Engines only ever process the current selection.
package raster

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"multiscale/pkg/progress"
)

// Image is a multi-channel two-dimensional sample buffer.
type Image struct {
	width    int
	height   int
	channels [][]float64

	selection    image.Rectangle
	firstChannel int
	lastChannel  int

	status *progress.Monitor
}

// NewImage allocates a zero-filled image.
func NewImage(width, height, numberOfChannels int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if numberOfChannels <= 0 {
		return nil, fmt.Errorf("invalid number of channels %d", numberOfChannels)
	}
	img := &Image{
		width:    width,
		height:   height,
		channels: make([][]float64, numberOfChannels),
	}
	for c := range img.channels {
		img.channels[c] = make([]float64, width*height)
	}
	img.ResetSelections()
	return img, nil
}

// NewImageFromData wraps existing channel planes. Every plane must hold
// exactly width*height samples; the planes are not copied.
func NewImageFromData(width, height int, planes ...[]float64) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if len(planes) == 0 {
		return nil, fmt.Errorf("no channel data")
	}
	for c, p := range planes {
		if len(p) != width*height {
			return nil, fmt.Errorf("channel %d holds %d samples, expected %d", c, len(p), width*height)
		}
	}
	img := &Image{width: width, height: height, channels: planes}
	img.ResetSelections()
	return img, nil
}

// Width returns the image width in pixels.
func (img *Image) Width() int { return img.width }

// Height returns the image height in pixels.
func (img *Image) Height() int { return img.height }

// NumberOfChannels returns the number of channels.
func (img *Image) NumberOfChannels() int { return len(img.channels) }

// Bounds returns the full image rectangle.
func (img *Image) Bounds() image.Rectangle { return image.Rect(0, 0, img.width, img.height) }

// NumberOfPixels returns width*height.
func (img *Image) NumberOfPixels() int { return img.width * img.height }

// ResetSelections selects the whole image and all channels.
func (img *Image) ResetSelections() {
	img.selection = img.Bounds()
	img.firstChannel = 0
	img.lastChannel = len(img.channels) - 1
}

// SelectRectangle selects a sub-rectangle. The rectangle is clipped to the
// image bounds; an empty intersection selects the whole image.
func (img *Image) SelectRectangle(r image.Rectangle) {
	r = r.Canon().Intersect(img.Bounds())
	if r.Empty() {
		r = img.Bounds()
	}
	img.selection = r
}

// SelectedRectangle returns the current selection.
func (img *Image) SelectedRectangle() image.Rectangle { return img.selection }

// SelectChannelRange selects channels [first, last], clamped to valid indices.
func (img *Image) SelectChannelRange(first, last int) {
	n := len(img.channels)
	first = min(max(first, 0), n-1)
	last = min(max(last, 0), n-1)
	if last < first {
		first, last = last, first
	}
	img.firstChannel, img.lastChannel = first, last
}

// SelectChannel selects a single channel.
func (img *Image) SelectChannel(c int) { img.SelectChannelRange(c, c) }

// FirstSelectedChannel returns the first channel of the selected range.
func (img *Image) FirstSelectedChannel() int { return img.firstChannel }

// LastSelectedChannel returns the last channel of the selected range.
func (img *Image) LastSelectedChannel() int { return img.lastChannel }

// NumberOfSelectedChannels returns the size of the selected channel range.
func (img *Image) NumberOfSelectedChannels() int { return img.lastChannel - img.firstChannel + 1 }

// NumberOfSelectedSamples returns the number of samples in the selection
// across all selected channels.
func (img *Image) NumberOfSelectedSamples() int64 {
	return int64(img.selection.Dx()) * int64(img.selection.Dy()) * int64(img.NumberOfSelectedChannels())
}

// Status returns the attached monitor, possibly nil.
func (img *Image) Status() *progress.Monitor { return img.status }

// SetStatus attaches a monitor to the image.
func (img *Image) SetStatus(m *progress.Monitor) { img.status = m }

// PixelData returns the full plane of channel c.
func (img *Image) PixelData(c int) []float64 { return img.channels[c] }

// Row returns row y of channel c over the full image width.
func (img *Image) Row(y, c int) []float64 {
	off := y * img.width
	return img.channels[c][off : off+img.width]
}

// Pixel returns the sample at (x, y) of channel c.
func (img *Image) Pixel(x, y, c int) float64 { return img.channels[c][y*img.width+x] }

// SetPixel stores v at (x, y) of channel c.
func (img *Image) SetPixel(x, y, c int, v float64) { img.channels[c][y*img.width+x] = v }

// Plane returns a view of the selected rectangle of channel c.
func (img *Image) Plane(c int) Plane {
	return Plane{Data: img.channels[c], Stride: img.width, Rect: img.selection}
}

// Clone returns a deep copy of the image with the same selections. The
// monitor is shared, not copied.
func (img *Image) Clone() *Image {
	out := &Image{
		width:        img.width,
		height:       img.height,
		channels:     make([][]float64, len(img.channels)),
		selection:    img.selection,
		firstChannel: img.firstChannel,
		lastChannel:  img.lastChannel,
		status:       img.status,
	}
	for c, p := range img.channels {
		out.channels[c] = append([]float64(nil), p...)
	}
	return out
}

// CopyFrom copies the samples of src into img. Dimensions must match.
func (img *Image) CopyFrom(src *Image) error {
	if err := img.checkGeometry(src); err != nil {
		return err
	}
	for c := range img.channels {
		copy(img.channels[c], src.channels[c])
	}
	return nil
}

// Fill sets every selected sample to v.
func (img *Image) Fill(v float64) {
	r := img.selection
	for c := img.firstChannel; c <= img.lastChannel; c++ {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := img.Row(y, c)[r.Min.X:r.Max.X]
			for i := range row {
				row[i] = v
			}
		}
	}
}

// Add adds the samples of other to img, channel by channel.
func (img *Image) Add(other *Image) error {
	if err := img.checkGeometry(other); err != nil {
		return err
	}
	for c := range img.channels {
		floats.Add(img.channels[c], other.channels[c])
	}
	return nil
}

// Subtract subtracts the samples of other from img, channel by channel.
func (img *Image) Subtract(other *Image) error {
	if err := img.checkGeometry(other); err != nil {
		return err
	}
	for c := range img.channels {
		floats.Sub(img.channels[c], other.channels[c])
	}
	return nil
}

// Scale multiplies every sample by f.
func (img *Image) Scale(f float64) {
	for c := range img.channels {
		floats.Scale(f, img.channels[c])
	}
}

// Apply replaces every selected sample v by fn(v).
func (img *Image) Apply(fn func(float64) float64) {
	r := img.selection
	for c := img.firstChannel; c <= img.lastChannel; c++ {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := img.Row(y, c)[r.Min.X:r.Max.X]
			for i, v := range row {
				row[i] = fn(v)
			}
		}
	}
}

// MinMax returns the extreme sample values of the selection of channel c.
func (img *Image) MinMax(c int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	r := img.selection
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Row(y, c)[r.Min.X:r.Max.X]
		lo = math.Min(lo, floats.Min(row))
		hi = math.Max(hi, floats.Max(row))
	}
	return lo, hi
}

// Truncate clamps every selected sample to [lo, hi].
func (img *Image) Truncate(lo, hi float64) {
	img.Apply(func(v float64) float64 { return math.Min(math.Max(v, lo), hi) })
}

// Rescale maps the selected samples of each channel linearly to [0, 1]. A
// constant channel is left untouched.
func (img *Image) Rescale() {
	r := img.selection
	for c := img.firstChannel; c <= img.lastChannel; c++ {
		lo, hi := img.MinMax(c)
		if hi <= lo {
			continue
		}
		k := 1 / (hi - lo)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := img.Row(y, c)[r.Min.X:r.Max.X]
			for i, v := range row {
				row[i] = (v - lo) * k
			}
		}
	}
}

func (img *Image) checkGeometry(other *Image) error {
	if other == nil {
		return fmt.Errorf("nil image")
	}
	if img.width != other.width || img.height != other.height || len(img.channels) != len(other.channels) {
		return fmt.Errorf("incompatible image geometry: %dx%dx%d vs %dx%dx%d",
			img.width, img.height, len(img.channels), other.width, other.height, len(other.channels))
	}
	return nil
}
