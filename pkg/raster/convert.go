package raster

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

	"golang.org/x/image/tiff"
)

// FromImage converts a decoded image to a float image with samples in [0, 1].
// Gray images produce one channel, everything else three (RGB).
func FromImage(src image.Image) (*Image, error) {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	numberOfChannels := 3
	switch src.(type) {
	case *image.Gray, *image.Gray16:
		numberOfChannels = 1
	}

	img, err := NewImage(width, height, numberOfChannels)
	if err != nil {
		return nil, err
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert 16-bit color to float64 (0-1 range)
			img.SetPixel(x, y, 0, float64(r)/65535.0)
			if numberOfChannels == 3 {
				img.SetPixel(x, y, 1, float64(g)/65535.0)
				img.SetPixel(x, y, 2, float64(b)/65535.0)
			}
		}
	}
	return img, nil
}

// ToGray16 renders channel c as a 16-bit grayscale image. Samples are clamped
// to [0, 1].
func (img *Image) ToGray16(c int) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, img.width, img.height))
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			v := math.Max(0, math.Min(1, img.Pixel(x, y, c)))
			out.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return out
}

// Load reads a PNG, JPEG or TIFF file into a float image.
func Load(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	src, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	img, err := FromImage(src)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s image: %w", format, err)
	}
	return img, nil
}

// SavePNG writes channel c as a 16-bit grayscale PNG.
func (img *Image) SavePNG(path string, c int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img.ToGray16(c)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// ToImage renders the image as 16-bit grayscale when it has one channel and
// as 16-bit RGB built from the first three channels otherwise.
func (img *Image) ToImage() image.Image {
	if len(img.channels) < 3 {
		return img.ToGray16(0)
	}
	out := image.NewNRGBA64(image.Rect(0, 0, img.width, img.height))
	sample := func(x, y, c int) uint16 {
		return uint16(math.Round(math.Max(0, math.Min(1, img.Pixel(x, y, c))) * 65535))
	}
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			out.SetNRGBA64(x, y, color.NRGBA64{R: sample(x, y, 0), G: sample(x, y, 1), B: sample(x, y, 2), A: 0xffff})
		}
	}
	return out
}

// Save writes the image in the format selected by the file extension: PNG,
// JPEG or TIFF.
func (img *Image) Save(path string) error {
	var encode func(f *os.File, m image.Image) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(f *os.File, m image.Image) error { return png.Encode(f, m) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File, m image.Image) error { return jpeg.Encode(f, m, &jpeg.Options{Quality: 95}) }
	case ".tif", ".tiff":
		encode = func(f *os.File, m image.Image) error {
			return tiff.Encode(f, m, &tiff.Options{Compression: tiff.Deflate})
		}
	default:
		return fmt.Errorf("unsupported image format %q", filepath.Ext(path))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if err := encode(file, img.ToImage()); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
