package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/grid"
)

// BoundaryValue is the intensity used to outline segments.
const BoundaryValue = 0

// Classify walks the tree once in preorder and returns the segmented grid:
// every multi-cell leaf window is filled with its mean intensity and outlined
// on its first row and column. Single-cell leaves keep their raw sample.
//
// The source grid is left untouched. A tree can only be classified once, even
// when classification fails.
func (t *Tree) Classify() (*grid.Gray, error) {
	if t.classified {
		return nil, errors.New("tree already classified").
			WithType(ErrTypeAlreadyClassified)
	}
	t.classified = true

	out := grid.CopyFrom(t.samples)
	leaves := make([]*Node, 0, t.leafCount)

	var err error
	t.Walk(func(n *Node) bool {
		if err != nil {
			return false
		}
		if n.HasChildren() {
			return true
		}

		leaves = append(leaves, n)
		err = t.classifyLeaf(out, n)
		return false
	})
	if err != nil {
		return nil, err
	}

	t.leaves = leaves
	return out, nil
}

func (t *Tree) classifyLeaf(out grid.Writer, n *Node) error {
	w := n.Region.Window()

	if n.Region.IsMinimumGranularity() {
		n.Average = int(t.samples.At(w.Row0, w.Col0))
		return nil
	}

	area := w.Area()
	if w.Empty() || area <= 0 {
		return errors.New("leaf region has no area").
			WithType(ErrTypeDegenerateRegion).
			WithTag("region", n.Region.String())
	}

	average := t.samples.WindowSum(w) / uint64(area)
	n.Average = int(average)

	out.WindowFill(w, uint8(average))
	out.RowFill(w, 0, BoundaryValue)
	out.ColFill(w, 0, BoundaryValue)
	return nil
}

// Classified reports whether Classify was called.
func (t *Tree) Classified() bool {
	return t.classified
}

// Leaves returns the leaves in preorder. It is empty until the tree is
// classified.
func (t *Tree) Leaves() []*Node {
	return t.leaves
}
