package quadtree

import (
	"bytes"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/grid"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type leafSummary struct {
	Region  string
	Average int
}

func summarizeLeaves(leaves []*Node) []leafSummary {
	res := make([]leafSummary, len(leaves))
	for i, l := range leaves {
		res[i] = leafSummary{
			Region:  l.Region.String(),
			Average: l.Average,
		}
	}
	return res
}

func newGrid(t *testing.T, rows ...[]uint8) *grid.Gray {
	g, err := grid.NewGrayFromRows(rows)
	require.NoError(t, err)
	return g
}

func newRandomGrid(side int, seed int64) *grid.Gray {
	rnd := rand.New(rand.NewSource(seed))
	g := grid.NewGray(side, side)

	// Blocks of uniform noise so that the tree has leaves at various depths.
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			base := uint8(((row / 4) + (col / 8)) * 30)
			g.Set(row, col, base+uint8(rnd.Intn(20)))
		}
	}
	return g
}

func TestRegionQuadrants(t *testing.T) {
	regions := []Region{
		NewRegion(Vector2{0, 0}, Vector2{4, 4}),
		NewRegion(Vector2{8, 16}, Vector2{16, 24}),
		NewRegion(Vector2{3, 5}, Vector2{5, 7}),
	}

	for _, r := range regions {
		t.Run(r.String(), func(t *testing.T) {
			quads := []Region{r.UL(), r.LL(), r.LR(), r.UR()}

			var area float64
			for i, q := range quads {
				area += q.Area()
				require.Equal(t, r.Area()/4, q.Area())
				require.True(t, q.Lower.X >= r.Lower.X && q.Upper.X <= r.Upper.X)
				require.True(t, q.Lower.Y >= r.Lower.Y && q.Upper.Y <= r.Upper.Y)

				for j := i + 1; j < len(quads); j++ {
					require.False(t, q.Overlaps(quads[j]), "%v overlaps %v", q, quads[j])
				}
			}
			require.Equal(t, r.Area(), area)

			c := r.Center()
			require.True(t, r.UL().Upper.Equal(c))
			require.True(t, r.LR().Lower.Equal(c))
		})
	}

	t.Run("quadrant layout", func(t *testing.T) {
		r := NewRegion(Vector2{0, 0}, Vector2{4, 4})
		require.Equal(t, NewRegion(Vector2{0, 0}, Vector2{2, 2}), r.UL())
		require.Equal(t, NewRegion(Vector2{2, 0}, Vector2{4, 2}), r.LL())
		require.Equal(t, NewRegion(Vector2{2, 2}, Vector2{4, 4}), r.LR())
		require.Equal(t, NewRegion(Vector2{0, 2}, Vector2{2, 4}), r.UR())
	})
}

func TestRegionMetrics(t *testing.T) {
	r := NewRegion(Vector2{2, 2}, Vector2{3, 3})
	require.True(t, r.IsMinimumGranularity())
	require.Equal(t, float64(2), r.SizeMetric())
	require.Equal(t, float64(1), r.Area())
	require.Equal(t, grid.Window{Row0: 2, Col0: 2, Row1: 3, Col1: 3}, r.Window())

	r = NewRegion(Vector2{0, 0}, Vector2{2, 2})
	require.False(t, r.IsMinimumGranularity())
	require.Equal(t, float64(8), r.SizeMetric())
	require.True(t, r.Center().Equal(Vector2{1, 1}))
	require.True(t, r.Contains(Vector2{0, 1.5}))
	require.False(t, r.Contains(Vector2{2, 0}))
}

func TestNodeSubdivide(t *testing.T) {
	t.Run("children follow quadrant order", func(t *testing.T) {
		n := NewNode(NewRegion(Vector2{0, 0}, Vector2{8, 8}))
		require.False(t, n.HasChildren())
		require.NoError(t, n.Subdivide())
		require.True(t, n.HasChildren())

		for _, q := range Quadrants {
			c := n.Child(q)
			require.NotNil(t, c)
			require.Equal(t, n.Region.Quadrant(q), c.Region)
			require.Equal(t, 1, c.Depth)
			require.Equal(t, NoAverage, c.Average)
			require.Equal(t, NoLabel, c.Label)
		}
	})

	t.Run("subdividing twice fails", func(t *testing.T) {
		n := NewNode(NewRegion(Vector2{0, 0}, Vector2{8, 8}))
		require.NoError(t, n.Subdivide())

		err := n.Subdivide()
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidSubdivision, errors.Type(err))
	})

	t.Run("single cell cannot be subdivided", func(t *testing.T) {
		n := NewNode(NewRegion(Vector2{0, 0}, Vector2{1, 1}))

		err := n.Subdivide()
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidSubdivision, errors.Type(err))
		require.False(t, n.HasChildren())
	})

	t.Run("quadrant names", func(t *testing.T) {
		require.Equal(t, "UL", UL.String())
		require.Equal(t, "UR", UR.String())
		require.Equal(t, "unknown", Quadrant(7).String())
	})
}

func TestBuildValidation(t *testing.T) {
	t.Run("non square grid", func(t *testing.T) {
		tree, err := Build(grid.NewGray(4, 8), DefaultConfig())
		require.Error(t, err)
		require.Nil(t, tree)
		require.Equal(t, ErrTypeInvalidGrid, errors.Type(err))
	})

	t.Run("non power of two grid", func(t *testing.T) {
		tree, err := Build(grid.NewGray(12, 12), DefaultConfig())
		require.Error(t, err)
		require.Nil(t, tree)
		require.Equal(t, ErrTypeInvalidGrid, errors.Type(err))
	})

	t.Run("empty grid", func(t *testing.T) {
		_, err := Build(grid.NewGray(0, 0), DefaultConfig())
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidGrid, errors.Type(err))
	})

	t.Run("invalid thresholds", func(t *testing.T) {
		for _, threshold := range []float64{-1, math.NaN(), math.Inf(1)} {
			_, err := Build(grid.NewGray(4, 4), Config{Threshold: threshold})
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidConfig, errors.Type(err))
		}
	})

	t.Run("negative node budget", func(t *testing.T) {
		_, err := Build(grid.NewGray(4, 4), Config{Threshold: 40, MaxNodes: -1})
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidConfig, errors.Type(err))
	})

	t.Run("node budget exceeded aborts construction", func(t *testing.T) {
		g := newRandomGrid(16, 1)
		tree, err := Build(g, Config{Threshold: 0, MaxNodes: 20})
		require.Error(t, err)
		require.Nil(t, tree)
		require.Equal(t, ErrTypeNodeBudgetExceeded, errors.Type(err))
	})
}

func TestBuildInvariants(t *testing.T) {
	for _, threshold := range []float64{0, 10, 40, 120} {
		g := newRandomGrid(32, 42)
		tree, err := Build(g, Config{Threshold: threshold})
		require.NoError(t, err)

		var nodes, leaves int
		var leafArea float64
		tree.Walk(func(n *Node) bool {
			nodes++

			if n.HasChildren() {
				for _, q := range Quadrants {
					require.NotNil(t, n.Children[q])
					require.Equal(t, n.Region.Quadrant(q), n.Children[q].Region)
				}
			} else {
				for _, c := range n.Children {
					require.Nil(t, c)
				}
				leaves++
				leafArea += n.Region.Area()
			}

			if !n.Region.IsMinimumGranularity() {
				require.Equal(t, NeedsSplit(g, n.Region, threshold), n.HasChildren(),
					"split decision of %v", n.Region)
			}
			require.LessOrEqual(t, n.Depth, 5)
			return true
		})

		require.Equal(t, tree.NodeCount(), nodes)
		require.Equal(t, tree.LeafCount(), leaves)
		require.Equal(t, tree.Area().Area(), leafArea)
		require.LessOrEqual(t, tree.Depth(), 5)
	}

	t.Run("zero threshold reaches single cells", func(t *testing.T) {
		tree, err := Build(newRandomGrid(8, 3), Config{Threshold: 0})
		require.NoError(t, err)
		require.Equal(t, 3, tree.Depth())
		require.Equal(t, 64, tree.LeafCount())
		require.Equal(t, 1+4+16+64, tree.NodeCount())
	})

	t.Run("construction does not modify the grid", func(t *testing.T) {
		g := newRandomGrid(16, 7)
		before := g.Clone()

		_, err := Build(g, DefaultConfig())
		require.NoError(t, err)
		require.Equal(t, before.Pix(), g.Pix())
	})
}

func TestClassifyScenarios(t *testing.T) {
	t.Run("two homogeneous halves", func(t *testing.T) {
		g := newGrid(t,
			[]uint8{0, 0, 200, 200},
			[]uint8{0, 0, 200, 200},
			[]uint8{0, 0, 200, 200},
			[]uint8{0, 0, 200, 200},
		)

		tree, err := Build(g, DefaultConfig())
		require.NoError(t, err)
		require.Equal(t, 1, tree.Depth())

		out, err := tree.Classify()
		require.NoError(t, err)

		expected := []leafSummary{
			{Region: "(0, 0)(2, 2)", Average: 0},
			{Region: "(2, 0)(4, 2)", Average: 0},
			{Region: "(2, 2)(4, 4)", Average: 200},
			{Region: "(0, 2)(2, 4)", Average: 200},
		}
		if diff := cmp.Diff(expected, summarizeLeaves(tree.Leaves())); diff != "" {
			t.Errorf("unexpected leaves (-want +got):\n%s", diff)
		}

		expectedOut := newGrid(t,
			[]uint8{0, 0, 0, 0},
			[]uint8{0, 0, 0, 200},
			[]uint8{0, 0, 0, 0},
			[]uint8{0, 0, 0, 200},
		)
		require.Equal(t, expectedOut.Pix(), out.Pix())
	})

	t.Run("homogeneous root above single cell", func(t *testing.T) {
		g := newGrid(t,
			[]uint8{7, 7},
			[]uint8{7, 7},
		)

		tree, err := Build(g, DefaultConfig())
		require.NoError(t, err)
		require.False(t, tree.Root().HasChildren())

		out, err := tree.Classify()
		require.NoError(t, err)
		require.Len(t, tree.Leaves(), 1)
		require.Equal(t, 7, tree.Root().Average)
		require.Equal(t, []uint8{0, 0, 0, 7}, out.Pix())
	})

	t.Run("single cell leaves keep raw samples", func(t *testing.T) {
		g := newGrid(t,
			[]uint8{0, 100},
			[]uint8{50, 200},
		)

		tree, err := Build(g, DefaultConfig())
		require.NoError(t, err)

		out, err := tree.Classify()
		require.NoError(t, err)

		expected := []leafSummary{
			{Region: "(0, 0)(1, 1)", Average: 0},
			{Region: "(1, 0)(2, 1)", Average: 50},
			{Region: "(1, 1)(2, 2)", Average: 200},
			{Region: "(0, 1)(1, 2)", Average: 100},
		}
		if diff := cmp.Diff(expected, summarizeLeaves(tree.Leaves())); diff != "" {
			t.Errorf("unexpected leaves (-want +got):\n%s", diff)
		}
		require.Equal(t, g.Pix(), out.Pix())
	})

	t.Run("single cell grid", func(t *testing.T) {
		g := newGrid(t, []uint8{42})

		tree, err := Build(g, DefaultConfig())
		require.NoError(t, err)

		out, err := tree.Classify()
		require.NoError(t, err)
		require.Equal(t, 42, tree.Root().Average)
		require.Equal(t, []uint8{42}, out.Pix())
	})

	t.Run("mean is truncated", func(t *testing.T) {
		g := newGrid(t,
			[]uint8{10, 11},
			[]uint8{11, 11},
		)

		tree, err := Build(g, DefaultConfig())
		require.NoError(t, err)

		_, err = tree.Classify()
		require.NoError(t, err)
		require.Equal(t, 10, tree.Root().Average)
	})
}

func TestClassifyInvariants(t *testing.T) {
	g := newRandomGrid(64, 11)
	before := g.Clone()

	tree, err := Build(g, DefaultConfig())
	require.NoError(t, err)
	require.Empty(t, tree.Leaves())
	require.False(t, tree.Classified())

	out, err := tree.Classify()
	require.NoError(t, err)
	require.True(t, tree.Classified())
	require.Equal(t, before.Pix(), g.Pix())

	leaves := tree.Leaves()
	require.Len(t, leaves, tree.LeafCount())

	seen := make(map[*Node]struct{}, len(leaves))
	var area float64
	for _, l := range leaves {
		_, dup := seen[l]
		require.False(t, dup)
		seen[l] = struct{}{}

		require.True(t, l.IsLeaf())
		area += l.Region.Area()

		w := l.Region.Window()
		if l.Region.IsMinimumGranularity() {
			require.Equal(t, int(g.At(w.Row0, w.Col0)), l.Average)
			require.Equal(t, g.At(w.Row0, w.Col0), out.At(w.Row0, w.Col0))
			continue
		}

		require.Equal(t, int(g.WindowSum(w)/uint64(w.Area())), l.Average)
		require.Equal(t, uint8(BoundaryValue), out.At(w.Row0, w.Col0))
		require.Equal(t, uint8(BoundaryValue), out.At(w.Row1-1, w.Col0))
		require.Equal(t, uint8(BoundaryValue), out.At(w.Row0, w.Col1-1))
		require.Equal(t, uint8(l.Average), out.At(w.Row1-1, w.Col1-1))
	}
	require.Equal(t, tree.Area().Area(), area)

	t.Run("classifying twice fails", func(t *testing.T) {
		out, err := tree.Classify()
		require.Error(t, err)
		require.Nil(t, out)
		require.Equal(t, ErrTypeAlreadyClassified, errors.Type(err))
		require.Len(t, tree.Leaves(), len(leaves))
	})
}

func TestWalkOrder(t *testing.T) {
	tree, err := Build(newRandomGrid(4, 5), Config{Threshold: 0})
	require.NoError(t, err)

	var visited []string
	tree.Walk(func(n *Node) bool {
		visited = append(visited, n.Region.String())
		return n.Depth < 1
	})

	require.Equal(t, []string{
		"(0, 0)(4, 4)",
		"(0, 0)(2, 2)",
		"(2, 0)(4, 2)",
		"(2, 2)(4, 4)",
		"(0, 2)(2, 4)",
	}, visited)
}

func TestDebugInfoAndDump(t *testing.T) {
	g := newGrid(t,
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
	)

	tree, err := Build(g, DefaultConfig())
	require.NoError(t, err)

	info := tree.GetDebugInfo()
	require.Equal(t, 4, info.Side)
	require.Equal(t, 5, info.NodeCount)
	require.Equal(t, 4, info.LeafCount)
	require.Equal(t, []int{0, 4}, info.LeavesByDepth)

	_, err = tree.Classify()
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, tree.Dump(&b))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "(0, 0)(4, 4)", lines[0])
	require.Equal(t, "  (2, 2)(4, 4) aver=200", lines[3])
}

func TestLeafAt(t *testing.T) {
	g := newGrid(t,
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
		[]uint8{0, 0, 200, 200},
	)

	tree, err := Build(g, DefaultConfig())
	require.NoError(t, err)

	require.Equal(t, tree.Root().Child(UR), tree.LeafAt(1, 3))
	require.Equal(t, tree.Root().Child(LL), tree.LeafAt(3, 0))
	require.Nil(t, tree.LeafAt(4, 0))
	require.Nil(t, tree.LeafAt(-1, 2))
}
