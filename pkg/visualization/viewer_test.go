package visualization

import (
	"context"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"multiscale/pkg/multiscale"
	"multiscale/pkg/parallel"
	"multiscale/pkg/raster"
)

// decompose builds a three-layer decomposition of a gradient image
func decompose(t *testing.T, mask []bool) *multiscale.LayerSet {
	t.Helper()
	width, height := 16, 12
	img, err := raster.NewImage(width, height, 1)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetPixel(x, y, 0, float64(x)/float64(width)+float64((x*y)%3)*0.1)
		}
	}
	layers, err := multiscale.DecomposeMultiscale(context.Background(), img, 3, mask, multiscale.ATrous, parallel.Sequential())
	if err != nil {
		t.Fatalf("Failed to decompose image: %v", err)
	}
	return layers
}

// TestNewViewer verifies that a new viewer is created with the correct parameters
func TestNewViewer(t *testing.T) {
	layers := decompose(t, nil)
	viewer := NewViewer(layers, 0)

	if viewer.layers != layers {
		t.Error("Expected viewer to keep the layer set")
	}
	if viewer.channel != 0 {
		t.Errorf("Expected channel 0, got %d", viewer.channel)
	}
}

// TestExtractLayer verifies the rendering of detail layers and the residual
func TestExtractLayer(t *testing.T) {
	layers := decompose(t, nil)
	viewer := NewViewer(layers, 0)

	for j := 0; j < layers.Len(); j++ {
		img, err := viewer.ExtractLayer(j)
		if err != nil {
			t.Fatalf("Failed to extract layer %d: %v", j, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != 16 || bounds.Dy() != 12 {
			t.Errorf("Expected layer dimensions 16x12, got %dx%d", bounds.Dx(), bounds.Dy())
		}
		if _, ok := img.(*image.Gray16); !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
	}

	// Detail layers span the full range
	img, _ := viewer.ExtractLayer(0)
	gray := img.(*image.Gray16)
	var lo, hi uint16 = math.MaxUint16, 0
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			v := gray.Gray16At(x, y).Y
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if lo != 0 || hi != math.MaxUint16 {
		t.Errorf("Expected detail layer range [0, 65535], got [%d, %d]", lo, hi)
	}

	// The residual keeps its absolute scale
	img, _ = viewer.ExtractLayer(layers.NumberOfLayers())
	residual := layers.Residual()
	want := uint16(math.Round(math.Max(0, math.Min(1, residual.Pixel(5, 5, 0))) * 65535))
	if got := img.(*image.Gray16).Gray16At(5, 5).Y; got != want {
		t.Errorf("Expected residual value %d, got %d", want, got)
	}

	if _, err := viewer.ExtractLayer(layers.Len()); err == nil {
		t.Error("Expected error for out of range layer, got nil")
	}
	if _, err := NewViewer(layers, 1).ExtractLayer(0); err == nil {
		t.Error("Expected error for invalid channel, got nil")
	}
}

// TestExtractRegion verifies that regions are copied row by row
func TestExtractRegion(t *testing.T) {
	layers := decompose(t, nil)
	viewer := NewViewer(layers, 0)

	r := image.Rect(2, 3, 6, 6)
	region, err := viewer.ExtractRegion(1, r)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if len(region) != r.Dx()*r.Dy() {
		t.Errorf("Expected region size %d, got %d", r.Dx()*r.Dy(), len(region))
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			got := region[(y-r.Min.Y)*r.Dx()+x-r.Min.X]
			if want := layers.Layer(1).Pixel(x, y, 0); got != want {
				t.Errorf("Region value mismatch at (%d,%d): expected %f, got %f", x, y, want, got)
			}
		}
	}

	if _, err := viewer.ExtractRegion(1, image.Rect(0, 0, 0, 1)); err == nil {
		t.Error("Expected error for empty region, got nil")
	}
	if _, err := viewer.ExtractRegion(1, image.Rect(10, 0, 17, 1)); err == nil {
		t.Error("Expected error for region extending beyond layer, got nil")
	}
}

// TestSaveLayerSequence verifies that enabled layers are written to disk
func TestSaveLayerSequence(t *testing.T) {
	// Skip this test in short mode
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	layers := decompose(t, []bool{true, false, true, true})
	viewer := NewViewer(layers, 0)

	outputDir := filepath.Join(tempDir, "layers")
	written, err := viewer.SaveLayerSequence(outputDir)
	if err != nil {
		t.Fatalf("Failed to save layer sequence: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("Expected 3 files, got %d", len(written))
	}

	for _, name := range []string{"layer_00.png", "layer_02.png", "residual.png"} {
		filename := filepath.Join(outputDir, name)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected layer file does not exist: %s", filename)
		}
	}
	if _, err := os.Stat(filepath.Join(outputDir, "layer_01.png")); !os.IsNotExist(err) {
		t.Error("Disabled layer should not be written")
	}

	// JPEG output is selected by extension
	img, _ := viewer.ExtractLayer(0)
	if err := viewer.SaveLayer(img, filepath.Join(tempDir, "layer.jpg")); err != nil {
		t.Errorf("Failed to save JPEG layer: %v", err)
	}
}
