// Package visualization renders the layers of a multiscale decomposition as
// grayscale images for inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"multiscale/pkg/multiscale"
)

// Viewer renders one channel of a layer set.
type Viewer struct {
	// layers holds the decomposition to render
	layers *multiscale.LayerSet

	// channel is the rendered channel
	channel int
}

// NewViewer creates a viewer for channel c of a layer set
func NewViewer(layers *multiscale.LayerSet, c int) *Viewer {
	return &Viewer{
		layers:  layers,
		channel: c,
	}
}

// ExtractLayer renders entry j of the layer set. Detail layers hold signed
// coefficients and are stretched from their range to [0, 65535]; the residual
// is clamped to [0, 1]
func (v *Viewer) ExtractLayer(j int) (image.Image, error) {
	if j < 0 || j >= v.layers.Len() {
		return nil, fmt.Errorf("layer %d out of range [0, %d)", j, v.layers.Len())
	}
	layer := v.layers.Layer(j)
	if layer == nil {
		return nil, fmt.Errorf("layer %d is disabled", j)
	}
	if v.channel < 0 || v.channel >= layer.NumberOfChannels() {
		return nil, fmt.Errorf("channel %d out of range", v.channel)
	}

	lo, scale := 0.0, 1.0
	if j < v.layers.NumberOfLayers() {
		minimum, maximum := math.Inf(1), math.Inf(-1)
		for _, s := range layer.PixelData(v.channel) {
			minimum = math.Min(minimum, s)
			maximum = math.Max(maximum, s)
		}
		if maximum > minimum {
			lo, scale = minimum, 1/(maximum-minimum)
		} else {
			lo = minimum - 0.5
		}
	}

	width, height := layer.Width(), layer.Height()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := layer.Row(y, v.channel)
		for x := 0; x < width; x++ {
			value := uint16(math.Round(math.Max(0, math.Min(65535, (row[x]-lo)*scale*65535))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractRegion copies the coefficients of layer j inside r, row by row
func (v *Viewer) ExtractRegion(j int, r image.Rectangle) ([]float64, error) {
	if j < 0 || j >= v.layers.Len() || v.layers.Layer(j) == nil {
		return nil, fmt.Errorf("layer %d is not available", j)
	}
	layer := v.layers.Layer(j)

	if r.Empty() {
		return nil, fmt.Errorf("region must not be empty")
	}
	if !r.In(layer.Bounds()) {
		return nil, fmt.Errorf("region extends beyond layer boundaries")
	}

	region := make([]float64, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		region = append(region, layer.Row(y, v.channel)[r.Min.X:r.Max.X]...)
	}
	return region, nil
}

// SaveLayer saves a rendered layer as PNG, or JPEG when the file name ends in
// .jpg or .jpeg
func (v *Viewer) SaveLayer(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveLayerSequence renders and saves every enabled entry as
// layer_NN.png, the residual as residual.png. It returns the written paths.
func (v *Viewer) SaveLayerSequence(outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	for j := 0; j < v.layers.Len(); j++ {
		if v.layers.Layer(j) == nil {
			continue
		}
		img, err := v.ExtractLayer(j)
		if err != nil {
			return written, err
		}

		name := fmt.Sprintf("layer_%02d.png", j)
		if j == v.layers.NumberOfLayers() {
			name = "residual.png"
		}
		filename := filepath.Join(outputDir, name)
		if err := v.SaveLayer(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}
