package models

import (
	"bytes"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const ErrTypeEmptySegmentation = "empty-segmentation"

// HistogramPNG renders the distribution of leaf sizes, on a log2 scale, as a
// PNG image.
func HistogramPNG(seg *Segmentation, bins int) ([]byte, error) {
	if len(seg.Leaves) == 0 {
		return nil, errors.New("segmentation has no leaves").
			WithType(ErrTypeEmptySegmentation).
			WithTag("id", seg.ID)
	}
	if bins <= 0 {
		bins = int(math.Log2(float64(seg.Width))) + 1
	}

	values := make(plotter.Values, len(seg.Leaves))
	for i, l := range seg.Leaves {
		values[i] = math.Log2(float64(l.Size))
	}

	p := plot.New()
	p.Title.Text = "Leaf sizes"
	p.X.Label.Text = "log2(side)"
	p.Y.Label.Text = "leaves"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, errors.New("creating histogram failed").
			WithTag("id", seg.ID).
			Wrap(err)
	}
	p.Add(h)

	w, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, errors.New("rendering histogram failed").
			WithTag("id", seg.ID).
			Wrap(err)
	}

	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.New("encoding histogram failed").
			WithTag("id", seg.ID).
			Wrap(err)
	}
	return buf.Bytes(), nil
}
