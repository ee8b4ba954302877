package models

import (
	"time"

	"github.com/aukilabs/quadseg/grid"
	"github.com/aukilabs/quadseg/quadtree"
	"github.com/aukilabs/quadseg/receipt"
)

// Segmentation is the result of segmenting a grid.
type Segmentation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Threshold float64   `json:"threshold"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Depth     int       `json:"depth"`
	NodeCount int       `json:"node_count"`
	LeafCount int       `json:"leaf_count"`

	// The number of linked components. Zero when linking did not run.
	Components int `json:"components,omitempty"`

	Stats   Stats            `json:"stats"`
	Digest  string           `json:"digest,omitempty"`
	Receipt *receipt.Payload `json:"receipt,omitempty"`
	Elapsed time.Duration    `json:"elapsed"`

	Leaves []Leaf     `json:"-"`
	Output *grid.Gray `json:"-"`
}

// Leaf is a classified quadtree leaf.
type Leaf struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	Size    int `json:"size"`
	Average int `json:"average"`
	Label   int `json:"label"`
}

// Area returns the number of cells covered by the leaf.
func (l Leaf) Area() int {
	return l.Size * l.Size
}

// LeavesFromTree converts the classified leaves of a tree, keeping their
// preorder.
func LeavesFromTree(t *quadtree.Tree) []Leaf {
	nodes := t.Leaves()
	leaves := make([]Leaf, len(nodes))

	for i, n := range nodes {
		w := n.Region.Window()
		leaves[i] = Leaf{
			Row:     w.Row0,
			Col:     w.Col0,
			Size:    w.Width(),
			Average: n.Average,
			Label:   n.Label,
		}
	}
	return leaves
}
