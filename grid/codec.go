package grid

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	ErrTypeUnsupportedFormat = "unsupported-format"
	ErrTypeDecode            = "decode-failed"
	ErrTypeImageTooLarge     = "image-too-large"

	// MaxPixels is the largest number of samples a decoded image may hold.
	MaxPixels = 8192 * 8192
)

// Format is an image encoding understood by Encode.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// ParseFormat returns the format matching a name or file extension.
func ParseFormat(v string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(v, ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	default:
		return "", errors.New("unsupported image format").
			WithType(ErrTypeUnsupportedFormat).
			WithTag("format", v)
	}
}

// FormatFromPath returns the format matching the extension of a file path.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatTIFF:
		return "image/tiff"
	case FormatBMP:
		return "image/bmp"
	default:
		return "image/png"
	}
}

// Decode reads an image in any registered format (PNG, JPEG, GIF, TIFF, BMP,
// WebP) and converts it to grayscale.
func Decode(r io.Reader) (*Gray, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.New("reading image failed").
			WithType(ErrTypeDecode).
			Wrap(err)
	}

	conf, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.New("decoding image config failed").
			WithType(ErrTypeDecode).
			Wrap(err)
	}
	if conf.Width <= 0 || conf.Height <= 0 || conf.Width > MaxPixels/conf.Height {
		return nil, "", errors.New("image dimensions out of range").
			WithType(ErrTypeImageTooLarge).
			WithTag("format", format).
			WithTag("width", conf.Width).
			WithTag("height", conf.Height).
			WithTag("max_pixels", MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.New("decoding image failed").
			WithType(ErrTypeDecode).
			Wrap(err)
	}
	return FromImage(img), format, nil
}

// Encode writes a grid with the given format.
func Encode(w io.Writer, g *Gray, f Format) error {
	img := g.Image()

	var err error
	switch f {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case FormatBMP:
		err = bmp.Encode(w, img)
	default:
		return errors.New("unsupported image format").
			WithType(ErrTypeUnsupportedFormat).
			WithTag("format", f)
	}

	if err != nil {
		return errors.New("encoding image failed").
			WithTag("format", f).
			Wrap(err)
	}
	return nil
}

// FromImage converts an image to a grid using the standard luma conversion.
func FromImage(img image.Image) *Gray {
	b := img.Bounds()
	g := NewGray(b.Dx(), b.Dy())

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < g.height; y++ {
			start := y * src.Stride
			copy(g.Row(y), src.Pix[start:start+g.width])
		}
		return g
	}

	for y := 0; y < g.height; y++ {
		row := g.Row(y)
		for x := range row {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			row[x] = c.Y
		}
	}
	return g
}

// Image returns an image sharing the samples of the grid.
func (g *Gray) Image() *image.Gray {
	return &image.Gray{
		Pix:    g.pix,
		Stride: g.width,
		Rect:   image.Rect(0, 0, g.width, g.height),
	}
}

// Resize returns a copy of the grid scaled to side x side with bilinear
// interpolation. It is meant for display and never feeds the segmentation.
func Resize(g *Gray, side int) *Gray {
	if side <= 0 || (side == g.width && side == g.height) {
		return g.Clone()
	}

	dst := image.NewGray(image.Rect(0, 0, side, side))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), g.Image(), g.Image().Bounds(), draw.Src, nil)
	return FromImage(dst)
}

// FitPow2 crops the top-left largest power-of-two square out of a grid. Grids
// already square with a power-of-two side are returned as is.
func FitPow2(g *Gray) *Gray {
	side := FloorPow2(min(g.width, g.height))
	if side == g.width && side == g.height {
		return g
	}

	fitted := NewGray(side, side)
	for row := 0; row < side; row++ {
		copy(fitted.Row(row), g.Row(row)[:side])
	}
	return fitted
}
