// Package quadtree partitions a grayscale grid into a quadtree whose leaves
// cover regions of near uniform intensity.
//
// A tree is built breadth-first from a root covering the whole grid: a node
// is split in four when the spread between the brightest and darkest sample
// of its window reaches the configured threshold. Classification then walks
// the finished tree once, giving every leaf a representative value and
// rendering the segmented grid.
package quadtree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/grid"
)

const (
	ErrTypeInvalidGrid        = grid.ErrTypeInvalidGrid
	ErrTypeInvalidConfig      = "invalid-config"
	ErrTypeNodeBudgetExceeded = "node-budget-exceeded"
	ErrTypeDegenerateRegion   = "degenerate-region"
	ErrTypeAlreadyClassified  = "already-classified"
	ErrTypeInvalidSubdivision = "invalid-subdivision"
)

// DefaultThreshold is the intensity spread from which a region is split.
const DefaultThreshold = 40

// Config holds the construction parameters of a tree.
type Config struct {
	// The max - min intensity spread from which a region is split. A zero
	// threshold splits every region down to single cells.
	Threshold float64

	// The maximum number of nodes a tree may hold. Zero means unlimited.
	MaxNodes int
}

func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
	}
}

func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) || c.Threshold < 0 {
		return errors.New("threshold must be a non-negative number").
			WithType(ErrTypeInvalidConfig).
			WithTag("threshold", c.Threshold)
	}
	if c.MaxNodes < 0 {
		return errors.New("max nodes must not be negative").
			WithType(ErrTypeInvalidConfig).
			WithTag("max_nodes", c.MaxNodes)
	}
	return nil
}

// NeedsSplit reports whether the samples under a region are spread enough to
// be subdivided.
func NeedsSplit(samples grid.Reader, r Region, threshold float64) bool {
	min, max := samples.WindowMinMax(r.Window())
	return float64(max)-float64(min) >= threshold
}

// Tree is a quadtree built over a sample grid.
type Tree struct {
	samples grid.Reader
	conf    Config
	area    Region
	root    *Node

	nodeCount int
	leafCount int
	depth     int

	classified bool
	leaves     []*Node
}

// Build validates the grid and the config, then builds the tree
// breadth-first. The grid is only read. No tree is returned on failure.
func Build(samples grid.Reader, conf Config) (*Tree, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := grid.ValidateSquarePow2(samples); err != nil {
		return nil, err
	}

	t := &Tree{
		samples: samples,
		conf:    conf,
		area:    RegionOf(samples),
	}
	if err := t.build(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) build() error {
	t.root = NewNode(t.area)
	t.nodeCount = 1
	t.leafCount = 1

	queue := []*Node{t.root}
	for len(queue) > 0 {
		n := queue[0]
		queue[0] = nil
		queue = queue[1:]

		if n.Region.IsMinimumGranularity() {
			continue
		}
		if !NeedsSplit(t.samples, n.Region, t.conf.Threshold) {
			continue
		}

		if t.conf.MaxNodes > 0 && t.nodeCount+len(n.Children) > t.conf.MaxNodes {
			return errors.New("tree exceeds its node budget").
				WithType(ErrTypeNodeBudgetExceeded).
				WithTag("max_nodes", t.conf.MaxNodes).
				WithTag("node_count", t.nodeCount).
				WithTag("region", n.Region.String())
		}
		if err := n.Subdivide(); err != nil {
			return errors.New("subdividing node failed").Wrap(err)
		}

		t.nodeCount += len(n.Children)
		t.leafCount += len(n.Children) - 1
		if n.Depth+1 > t.depth {
			t.depth = n.Depth + 1
		}
		queue = append(queue, n.Children[:]...)
	}
	return nil
}

func (t *Tree) Root() *Node {
	return t.root
}

// Area returns the region covering the whole grid.
func (t *Tree) Area() Region {
	return t.area
}

func (t *Tree) Config() Config {
	return t.conf
}

// Depth returns the depth of the deepest node. The root has depth 0.
func (t *Tree) Depth() int {
	return t.depth
}

func (t *Tree) NodeCount() int {
	return t.nodeCount
}

func (t *Tree) LeafCount() int {
	return t.leafCount
}

// Walk visits the nodes in preorder, children in UL, LL, LR, UR order. When
// visit returns false the children of the visited node are skipped.
func (t *Tree) Walk(visit func(*Node) bool) {
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(n) || !n.HasChildren() {
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
}

// LeafAt returns the leaf covering a grid cell, or nil when the cell is
// outside the tree.
func (t *Tree) LeafAt(row, col int) *Node {
	p := Vector2{float64(row) + 0.5, float64(col) + 0.5}
	if !t.area.Contains(p) {
		return nil
	}

	n := t.root
	for n.HasChildren() {
		for _, c := range n.Children {
			if c.Region.Contains(p) {
				n = c
				break
			}
		}
	}
	return n
}
