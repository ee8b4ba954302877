package quadtree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Quadrant enumerates the children of a node in their storage order.
type Quadrant int

const (
	UL Quadrant = iota
	LL
	LR
	UR
)

// Quadrants lists the quadrants in child order.
var Quadrants = [4]Quadrant{UL, LL, LR, UR}

func (q Quadrant) String() string {
	switch q {
	case UL:
		return "UL"
	case LL:
		return "LL"
	case LR:
		return "LR"
	case UR:
		return "UR"
	default:
		return "unknown"
	}
}

const (
	// Label of a leaf not linked to any component.
	NoLabel = -1

	// Average of a node not classified yet.
	NoAverage = -1
)

// Node is a quadtree vertex. It is either a leaf or has exactly four children.
type Node struct {
	Region   Region
	Children [4]*Node
	Depth    int

	// Component label, set by the optional linking stage.
	Label int

	// Representative intensity, set by classification.
	Average int
}

func NewNode(r Region) *Node {
	return newNode(r, 0)
}

func newNode(r Region, depth int) *Node {
	return &Node{
		Region:  r,
		Depth:   depth,
		Label:   NoLabel,
		Average: NoAverage,
	}
}

func (n *Node) HasChildren() bool {
	return n.Children[UL] != nil
}

func (n *Node) IsLeaf() bool {
	return !n.HasChildren()
}

func (n *Node) Child(q Quadrant) *Node {
	return n.Children[q]
}

// Subdivide splits the node into four children ordered UL, LL, LR, UR. A node
// is subdivided at most once and never below a single grid cell.
func (n *Node) Subdivide() error {
	if n.HasChildren() {
		return errors.New("node already subdivided").
			WithType(ErrTypeInvalidSubdivision).
			WithTag("region", n.Region.String())
	}
	if n.Region.IsMinimumGranularity() || n.Region.Area() <= 0 {
		return errors.New("node is too small to be subdivided").
			WithType(ErrTypeInvalidSubdivision).
			WithTag("region", n.Region.String())
	}

	for _, q := range Quadrants {
		n.Children[q] = newNode(n.Region.Quadrant(q), n.Depth+1)
	}
	return nil
}
