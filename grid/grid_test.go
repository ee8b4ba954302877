package grid

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestGray(t *testing.T) *Gray {
	g, err := NewGrayFromRows([][]uint8{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
	})
	require.NoError(t, err)
	return g
}

func TestNewGrayFromRows(t *testing.T) {
	t.Run("rows are copied", func(t *testing.T) {
		g := newTestGray(t)
		require.Equal(t, 4, g.Width())
		require.Equal(t, 4, g.Height())
		require.Equal(t, uint8(7), g.At(1, 2))
	})

	t.Run("ragged rows return an error", func(t *testing.T) {
		_, err := NewGrayFromRows([][]uint8{{1, 2}, {3}})
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidGrid, errors.Type(err))
	})
}

func TestGrayWindowReads(t *testing.T) {
	g := newTestGray(t)

	t.Run("min max", func(t *testing.T) {
		min, max := g.WindowMinMax(Window{Row0: 1, Col0: 1, Row1: 3, Col1: 3})
		require.Equal(t, uint8(6), min)
		require.Equal(t, uint8(11), max)
	})

	t.Run("min max of empty window", func(t *testing.T) {
		min, max := g.WindowMinMax(Window{Row0: 2, Col0: 2, Row1: 2, Col1: 3})
		require.Zero(t, min)
		require.Zero(t, max)
	})

	t.Run("sum", func(t *testing.T) {
		require.Equal(t, uint64(136), g.WindowSum(g.Bounds()))
		require.Equal(t, uint64(1+2+5+6), g.WindowSum(Window{Row1: 2, Col1: 2}))
	})

	t.Run("out of bounds windows are clipped", func(t *testing.T) {
		require.Equal(t, uint64(16), g.WindowSum(Window{Row0: 3, Col0: 3, Row1: 10, Col1: 10}))
	})
}

func TestGrayWindowWrites(t *testing.T) {
	t.Run("window fill", func(t *testing.T) {
		g := newTestGray(t)
		g.WindowFill(Window{Row0: 2, Col0: 2, Row1: 4, Col1: 4}, 100)
		require.Equal(t, uint64(400), g.WindowSum(Window{Row0: 2, Col0: 2, Row1: 4, Col1: 4}))
		require.Equal(t, uint8(10), g.At(2, 1))
	})

	t.Run("row and column fill are window relative", func(t *testing.T) {
		g := newTestGray(t)
		w := Window{Row0: 2, Col0: 2, Row1: 4, Col1: 4}
		g.RowFill(w, 0, 0)
		g.ColFill(w, 0, 0)

		require.Equal(t, uint8(0), g.At(2, 2))
		require.Equal(t, uint8(0), g.At(2, 3))
		require.Equal(t, uint8(0), g.At(3, 2))
		require.Equal(t, uint8(16), g.At(3, 3))
		require.Equal(t, uint8(10), g.At(2, 1))
	})

	t.Run("clone does not share samples", func(t *testing.T) {
		g := newTestGray(t)
		c := g.Clone()
		c.Set(0, 0, 200)
		require.Equal(t, uint8(1), g.At(0, 0))
		require.Equal(t, uint8(200), c.At(0, 0))
	})
}

func TestValidateSquarePow2(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		valid  bool
	}{
		{name: "single cell", width: 1, height: 1, valid: true},
		{name: "power of two", width: 256, height: 256, valid: true},
		{name: "empty", width: 0, height: 0},
		{name: "not square", width: 4, height: 8},
		{name: "not power of two", width: 6, height: 6},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateSquarePow2(NewGray(test.width, test.height))
			if test.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidGrid, errors.Type(err))
		})
	}
}

func TestFloorPow2(t *testing.T) {
	require.Equal(t, 0, FloorPow2(0))
	require.Equal(t, 1, FloorPow2(1))
	require.Equal(t, 4, FloorPow2(7))
	require.Equal(t, 512, FloorPow2(512))
}

func TestCodecRoundTrip(t *testing.T) {
	g := newTestGray(t)

	for _, f := range []Format{FormatPNG, FormatTIFF, FormatBMP} {
		t.Run(string(f), func(t *testing.T) {
			var b bytes.Buffer
			require.NoError(t, Encode(&b, g, f))

			decoded, _, err := Decode(&b)
			require.NoError(t, err)
			require.Equal(t, g.Pix(), decoded.Pix())
		})
	}

	t.Run("garbage fails to decode", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader([]byte("not an image")))
		require.Error(t, err)
		require.Equal(t, ErrTypeDecode, errors.Type(err))
	})
}

func TestDecodeDimensions(t *testing.T) {
	header := func(t *testing.T, width, height uint32) []byte {
		var b bytes.Buffer
		require.NoError(t, Encode(&b, NewGray(1, 1), FormatPNG))

		data := b.Bytes()
		binary.BigEndian.PutUint32(data[16:20], width)
		binary.BigEndian.PutUint32(data[20:24], height)
		binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
		return data
	}

	t.Run("declared dimensions above max pixels", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(header(t, 1<<20, 1<<20)))
		require.Error(t, err)
		require.Equal(t, ErrTypeImageTooLarge, errors.Type(err))
	})

	t.Run("one side too long", func(t *testing.T) {
		_, _, err := Decode(bytes.NewReader(header(t, MaxPixels+1, 1)))
		require.Error(t, err)
		require.Equal(t, ErrTypeImageTooLarge, errors.Type(err))
	})

	t.Run("small image decodes", func(t *testing.T) {
		var b bytes.Buffer
		require.NoError(t, Encode(&b, NewGray(1, 1), FormatPNG))

		g, format, err := Decode(&b)
		require.NoError(t, err)
		require.Equal(t, "png", format)
		require.Equal(t, 1, g.Width())
	})
}

func TestParseFormat(t *testing.T) {
	f, err := FormatFromPath("out/QuadTreeSegmentation.tif")
	require.NoError(t, err)
	require.Equal(t, FormatTIFF, f)

	f, err = ParseFormat("JPG")
	require.NoError(t, err)
	require.Equal(t, FormatJPEG, f)

	_, err = ParseFormat("exr")
	require.Error(t, err)
	require.Equal(t, ErrTypeUnsupportedFormat, errors.Type(err))
}

func TestFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 12, 12))
	img.Set(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	g := FromImage(img)
	require.Equal(t, 2, g.Width())
	require.Equal(t, uint8(255), g.At(0, 0))
	require.Equal(t, uint8(0), g.At(1, 1))
}

func TestResizeAndFit(t *testing.T) {
	t.Run("uniform grid stays uniform when resized", func(t *testing.T) {
		g := NewGray(4, 4)
		g.WindowFill(g.Bounds(), 80)

		r := Resize(g, 16)
		require.Equal(t, 16, r.Width())
		min, max := r.WindowMinMax(r.Bounds())
		require.InDelta(t, 80, int(min), 1)
		require.InDelta(t, 80, int(max), 1)
	})

	t.Run("fit crops to a power of two square", func(t *testing.T) {
		g := NewGray(7, 5)
		g.Set(0, 3, 9)

		f := FitPow2(g)
		require.Equal(t, 4, f.Width())
		require.Equal(t, 4, f.Height())
		require.Equal(t, uint8(9), f.At(0, 3))
		require.NoError(t, ValidateSquarePow2(f))
	})
}
