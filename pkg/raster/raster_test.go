package raster

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(t *testing.T, width, height, channels int) *Image {
	t.Helper()
	img, err := NewImage(width, height, channels)
	require.NoError(t, err)
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetPixel(x, y, c, float64(x+y*width+c)/float64(width*height+channels))
			}
		}
	}
	return img
}

func TestNewImage(t *testing.T) {
	img, err := NewImage(4, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.SelectedRectangle())
	assert.Equal(t, 2, img.NumberOfSelectedChannels())
	assert.Equal(t, int64(24), img.NumberOfSelectedSamples())
	assert.Equal(t, 12, img.NumberOfPixels())

	_, err = NewImage(0, 3, 1)
	assert.Error(t, err)
	_, err = NewImage(3, 3, 0)
	assert.Error(t, err)

	_, err = NewImageFromData(2, 2, []float64{1, 2, 3})
	assert.Error(t, err)
	wrapped, err := NewImageFromData(2, 1, []float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2.0, wrapped.Pixel(1, 0, 0))
}

func TestSelections(t *testing.T) {
	img := gradient(t, 10, 8, 3)

	img.SelectRectangle(image.Rect(6, 5, 20, 2))
	assert.Equal(t, image.Rect(6, 2, 10, 5), img.SelectedRectangle())
	img.SelectRectangle(image.Rect(20, 20, 30, 30))
	assert.Equal(t, img.Bounds(), img.SelectedRectangle())

	img.SelectChannelRange(2, 1)
	assert.Equal(t, 1, img.FirstSelectedChannel())
	assert.Equal(t, 2, img.LastSelectedChannel())
	img.SelectChannel(7)
	assert.Equal(t, 2, img.FirstSelectedChannel())
	assert.Equal(t, 1, img.NumberOfSelectedChannels())

	img.ResetSelections()
	assert.Equal(t, 3, img.NumberOfSelectedChannels())
}

func TestSelectionLimitsSampleOperations(t *testing.T) {
	img := gradient(t, 6, 6, 2)
	before := img.Clone()
	img.SelectRectangle(image.Rect(1, 1, 3, 4))
	img.SelectChannel(1)
	img.Fill(7)

	for c := 0; c < 2; c++ {
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				if c == 1 && image.Pt(x, y).In(img.SelectedRectangle()) {
					assert.Equal(t, 7.0, img.Pixel(x, y, c))
				} else {
					assert.Equal(t, before.Pixel(x, y, c), img.Pixel(x, y, c))
				}
			}
		}
	}

	lo, hi := img.MinMax(1)
	assert.Equal(t, 7.0, lo)
	assert.Equal(t, 7.0, hi)
}

func TestPlane(t *testing.T) {
	img := gradient(t, 5, 4, 1)
	img.SelectRectangle(image.Rect(1, 2, 4, 4))
	p := img.Plane(0)
	assert.Equal(t, 3, p.Width())
	assert.Equal(t, 2, p.Height())
	assert.Equal(t, img.Row(3, 0)[1:4], p.Row(1))

	p.Row(0)[0] = -5
	assert.Equal(t, -5.0, img.Pixel(1, 2, 0), "planes share the image buffer")
}

func TestArithmetic(t *testing.T) {
	a := gradient(t, 4, 4, 2)
	b := a.Clone()
	b.PixelData(0)[0] = 99
	assert.NotEqual(t, 99.0, a.PixelData(0)[0], "clones are independent")

	sum := a.Clone()
	require.NoError(t, sum.Add(a))
	require.NoError(t, sum.Subtract(a))
	assert.InDeltaSlice(t, a.PixelData(1), sum.PixelData(1), 1e-15)

	sum.Scale(2)
	assert.InDelta(t, 2*a.Pixel(3, 3, 1), sum.Pixel(3, 3, 1), 1e-15)

	other, err := NewImage(4, 3, 2)
	require.NoError(t, err)
	assert.Error(t, a.Add(other))
	assert.Error(t, a.CopyFrom(other))
	assert.Error(t, a.Subtract(nil))
}

func TestTruncateAndRescale(t *testing.T) {
	img, err := NewImageFromData(4, 1, []float64{-1, 0.5, 2, 1})
	require.NoError(t, err)
	c := img.Clone()

	img.Truncate(0, 1)
	assert.Equal(t, []float64{0, 0.5, 1, 1}, img.PixelData(0))

	c.Rescale()
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 2.0 / 3}, c.PixelData(0), 1e-15)

	flat, err := NewImageFromData(2, 1, []float64{3, 3})
	require.NoError(t, err)
	flat.Rescale()
	assert.Equal(t, []float64{3, 3}, flat.PixelData(0))
}

func TestFromImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.SetGray(1, 0, color.Gray{Y: 255})
	img, err := FromImage(gray)
	require.NoError(t, err)
	assert.Equal(t, 1, img.NumberOfChannels())
	assert.Equal(t, []float64{0, 1}, img.PixelData(0))

	rgba := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rgba.Set(0, 0, color.RGBA{R: 255, G: 0, B: 255, A: 255})
	img, err = FromImage(rgba)
	require.NoError(t, err)
	require.Equal(t, 3, img.NumberOfChannels())
	assert.Equal(t, 1.0, img.Pixel(0, 0, 0))
	assert.Equal(t, 0.0, img.Pixel(0, 0, 1))
	assert.Equal(t, 1.0, img.Pixel(0, 0, 2))
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	img := gradient(t, 7, 5, 1)

	for _, name := range []string{"gray.png", "gray.tiff"} {
		path := filepath.Join(dir, name)
		require.NoError(t, img.Save(path))
		loaded, err := Load(path)
		require.NoError(t, err, name)
		require.Equal(t, 1, loaded.NumberOfChannels(), name)
		assert.InDeltaSlice(t, img.PixelData(0), loaded.PixelData(0), 1.0/65535, name)
	}

	rgb := gradient(t, 3, 3, 3)
	path := filepath.Join(dir, "rgb.png")
	require.NoError(t, rgb.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.NumberOfChannels())
	assert.InDeltaSlice(t, rgb.PixelData(2), loaded.PixelData(2), 1.0/65535)

	require.NoError(t, rgb.Save(filepath.Join(dir, "rgb.jpg")))
	assert.Error(t, img.Save(filepath.Join(dir, "image.bmp")))
	_, err = Load(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestToGray16Clamps(t *testing.T) {
	img, err := NewImageFromData(3, 1, []float64{-0.5, 0.5, 1.5})
	require.NoError(t, err)
	g := img.ToGray16(0)
	assert.Equal(t, uint16(0), g.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(32768), g.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), g.Gray16At(2, 0).Y)
}
