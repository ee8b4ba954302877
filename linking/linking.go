// Package linking groups the classified leaves of a quadtree into connected
// components of similar intensity.
//
// Linking is an optional stage run after classification. It only writes the
// Label of each leaf and never touches the segmented grid.
package linking

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/quadtree"
)

const (
	ErrTypeNotClassified    = "not-classified"
	ErrTypeInvalidTolerance = "invalid-tolerance"
)

// Result describes the components found by Link.
type Result struct {
	// The number of components.
	Components int

	// The grid area covered by each component, indexed by label.
	Sizes []int
}

// Link labels the leaves of a classified tree. Two leaves sharing an edge end
// up in the same component when their averages differ by at most tolerance.
// Labels are numbered from 0 in leaf order of first encounter.
func Link(tree *quadtree.Tree, tolerance int) (Result, error) {
	if !tree.Classified() {
		return Result{}, errors.New("tree must be classified before linking").
			WithType(ErrTypeNotClassified)
	}
	if tolerance < 0 {
		return Result{}, errors.New("tolerance must not be negative").
			WithType(ErrTypeInvalidTolerance).
			WithTag("tolerance", tolerance)
	}

	leaves := tree.Leaves()
	for _, l := range leaves {
		l.Label = quadtree.NoLabel
	}

	neighbors := adjacency(tree)
	res := Result{
		Sizes: make([]int, 0, len(leaves)),
	}

	queue := make([]*quadtree.Node, 0, len(leaves))
	for _, l := range leaves {
		if l.Label != quadtree.NoLabel {
			continue
		}

		label := res.Components
		l.Label = label
		size := 0

		queue = queue[:0]
		queue = append(queue, l)
		for len(queue) > 0 {
			curr := queue[0]
			queue = queue[1:]
			size += int(curr.Region.Area())

			for _, n := range neighbors[curr] {
				if n.Label != quadtree.NoLabel || !similar(curr, n, tolerance) {
					continue
				}
				n.Label = label
				queue = append(queue, n)
			}
		}

		res.Sizes = append(res.Sizes, size)
		res.Components++
	}
	return res, nil
}

func similar(a, b *quadtree.Node, tolerance int) bool {
	diff := a.Average - b.Average
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// adjacency returns the leaves sharing an edge with each leaf. Only the cells
// right of and below each leaf are probed since adjacency is symmetric.
func adjacency(tree *quadtree.Tree) map[*quadtree.Node][]*quadtree.Node {
	leaves := tree.Leaves()
	neighbors := make(map[*quadtree.Node][]*quadtree.Node, len(leaves))
	linked := make(map[[2]*quadtree.Node]struct{}, len(leaves)*2)

	connect := func(a, b *quadtree.Node) {
		if b == nil || a == b {
			return
		}
		if _, ok := linked[[2]*quadtree.Node{a, b}]; ok {
			return
		}
		linked[[2]*quadtree.Node{a, b}] = struct{}{}
		linked[[2]*quadtree.Node{b, a}] = struct{}{}
		neighbors[a] = append(neighbors[a], b)
		neighbors[b] = append(neighbors[b], a)
	}

	for _, l := range leaves {
		w := l.Region.Window()

		for row := w.Row0; row < w.Row1; row++ {
			connect(l, tree.LeafAt(row, w.Col1))
		}
		for col := w.Col0; col < w.Col1; col++ {
			connect(l, tree.LeafAt(w.Row1, col))
		}
	}
	return neighbors
}
