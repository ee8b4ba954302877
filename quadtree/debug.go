package quadtree

import (
	"fmt"
	"io"
	"strings"
)

// DebugInfo summarizes the shape of a tree.
type DebugInfo struct {
	Side          int
	Threshold     float64
	NodeCount     int
	LeafCount     int
	Depth         int
	LeavesByDepth []int
}

func (t *Tree) GetDebugInfo() DebugInfo {
	info := DebugInfo{
		Side:          int(t.area.Width()),
		Threshold:     t.conf.Threshold,
		NodeCount:     t.nodeCount,
		LeafCount:     t.leafCount,
		Depth:         t.depth,
		LeavesByDepth: make([]int, t.depth+1),
	}

	t.Walk(func(n *Node) bool {
		if n.IsLeaf() {
			info.LeavesByDepth[n.Depth]++
		}
		return true
	})
	return info
}

// Dump writes one line per node in preorder, indented by depth.
func (t *Tree) Dump(w io.Writer) error {
	var err error
	t.Walk(func(n *Node) bool {
		if err != nil {
			return false
		}

		line := strings.Repeat("  ", n.Depth) + n.Region.String()
		if n.IsLeaf() && n.Average != NoAverage {
			line += fmt.Sprintf(" aver=%d", n.Average)
		}
		if n.Label != NoLabel {
			line += fmt.Sprintf(" label=%d", n.Label)
		}
		_, err = fmt.Fprintln(w, line)
		return true
	})
	return err
}
