package partition

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/testutil"
)

func TestPartitionValidation(t *testing.T) {
	g := testutil.RingGraph(10)

	var perr *PartitionError

	_, err := Partition(nil, 2)
	require.ErrorAs(t, err, &perr)

	_, err = Partition(g, 0)
	require.ErrorAs(t, err, &perr)

	_, err = Partition(g, 2, WithHaloHops(-1))
	require.ErrorAs(t, err, &perr)

	// Weights must be a multiple of the node count.
	_, err = Partition(g, 2, WithMethod(MethodMinCut), WithBalanceWeights(make([]int64, 7)))
	require.ErrorAs(t, err, &perr)
}

func TestPartitionWithAssignmentValidation(t *testing.T) {
	g := testutil.RingGraph(4)

	var perr *PartitionError

	_, err := PartitionWithAssignment(g, 2, []int{0, 1})
	require.ErrorAs(t, err, &perr)

	_, err = PartitionWithAssignment(g, 2, []int{0, 1, 2, 0})
	require.ErrorAs(t, err, &perr)

	_, err = PartitionWithAssignment(g, 2, []int{0, 1, -1, 0})
	require.ErrorAs(t, err, &perr)
}

func TestPartitionWithAssignment(t *testing.T) {
	rng := testutil.NewRNG(31)
	g := testutil.RandomGraph(rng, 100, 400)

	assign := testutil.RandomAssignment(rng, g.NumNodes(), 4)
	res, err := PartitionWithAssignment(g, 4, assign, WithSeed(31))
	require.NoError(t, err)
	require.Len(t, res.Parts, 4)

	checkDisjointUnion(t, g, res)

	// Inner counts per partition match the assignment, and none is empty.
	wantCount := make([]int64, 4)
	for _, p := range assign {
		wantCount[p]++
	}
	for p, sg := range res.Parts {
		require.NotZero(t, sg.NumInnerNodes, "partition %d is empty", p)
		assert.Equal(t, wantCount[p], sg.NumInnerNodes)

		// Each partition owns exactly the nodes the assignment gave it.
		for l := int64(0); l < sg.NumInnerNodes; l++ {
			assert.Equal(t, p, assign[sg.OrigNID[l]])
		}
	}
}

func TestPartitionSinglePart(t *testing.T) {
	rng := testutil.NewRNG(1)
	g := testutil.RandomGraph(rng, 50, 200)

	res, err := Partition(g, 1, WithSeed(1))
	require.NoError(t, err)
	require.Len(t, res.Parts, 1)

	sg := res.Parts[0]
	assert.Equal(t, g.NumNodes(), sg.NumInnerNodes)
	assert.Equal(t, g.NumEdges(), sg.NumInnerEdges)
	assert.Equal(t, g.NumNodes(), sg.G.NumNodes())
	assert.Equal(t, g.NumEdges(), sg.G.NumEdges())
	for _, inner := range sg.InnerNode {
		assert.True(t, inner)
	}
}

// checkDisjointUnion asserts that the inner nodes/edges of all parts form an
// exact cover of the input graph.
func checkDisjointUnion(t *testing.T, g *graph.Graph, res *Result) {
	t.Helper()

	var innerNodes, innerEdges int64
	seenNodes := make(map[graph.NodeID]bool)
	seenEdges := make(map[graph.EdgeID]bool)
	for _, sg := range res.Parts {
		innerNodes += sg.NumInnerNodes
		innerEdges += sg.NumInnerEdges
		for l := int64(0); l < sg.NumInnerNodes; l++ {
			orig := sg.OrigNID[l]
			assert.False(t, seenNodes[orig], "node %d owned twice", orig)
			seenNodes[orig] = true
		}
		for l := int64(0); l < sg.NumInnerEdges; l++ {
			orig := sg.OrigEID[l]
			assert.False(t, seenEdges[orig], "edge %d owned twice", orig)
			seenEdges[orig] = true
		}
	}
	assert.Equal(t, g.NumNodes(), innerNodes)
	assert.Equal(t, g.NumEdges(), innerEdges)
}

func TestPartitionDisjointUnion(t *testing.T) {
	rng := testutil.NewRNG(7)
	g := testutil.RandomGraph(rng, 200, 800)

	for _, hops := range []int{1, 2} {
		t.Run(fmt.Sprintf("hops=%d", hops), func(t *testing.T) {
			res, err := Partition(g, 4, WithSeed(7), WithHaloHops(hops))
			require.NoError(t, err)
			require.Len(t, res.Parts, 4)
			checkDisjointUnion(t, g, res)
		})
	}
}

func TestPartitionReshuffleContiguity(t *testing.T) {
	rng := testutil.NewRNG(11)
	g := testutil.RandomGraph(rng, 300, 1200)

	res, err := Partition(g, 4, WithSeed(11))
	require.NoError(t, err)

	book, ok := res.Book.(*partbook.RangeBook)
	require.True(t, ok, "reshuffled partitioning must produce a range book")

	nodeStarts := book.NodeStarts()
	edgeStarts := book.EdgeStarts()
	require.Len(t, nodeStarts, 5)
	assert.Equal(t, g.NumNodes(), book.NumNodes())
	assert.Equal(t, g.NumEdges(), book.NumEdges())

	for p, sg := range res.Parts {
		assert.Equal(t, nodeStarts[p+1]-nodeStarts[p], sg.NumInnerNodes)
		assert.Equal(t, edgeStarts[p+1]-edgeStarts[p], sg.NumInnerEdges)

		// Inner global IDs are exactly the partition's contiguous range, in
		// ascending order.
		for l := int64(0); l < sg.NumInnerNodes; l++ {
			assert.Equal(t, graph.NodeID(nodeStarts[p]+l), sg.GlobalNID[l])
		}
		for l := int64(0); l < sg.NumInnerEdges; l++ {
			assert.Equal(t, graph.EdgeID(edgeStarts[p]+l), sg.GlobalEID[l])
		}
	}

	// Permutations are bijections.
	seen := make([]bool, g.NumNodes())
	for _, v := range res.NodePerm {
		assert.False(t, seen[v])
		seen[v] = true
	}
}

func TestPartitionNoReshuffle(t *testing.T) {
	rng := testutil.NewRNG(13)
	g := testutil.RandomGraph(rng, 100, 400)

	res, err := Partition(g, 3, WithSeed(13), WithReshuffle(false))
	require.NoError(t, err)

	_, ok := res.Book.(*partbook.ExplicitBook)
	require.True(t, ok)
	assert.Nil(t, res.NodePerm)
	assert.Nil(t, res.EdgePerm)

	checkDisjointUnion(t, g, res)

	// Without reshuffling, global IDs are the input IDs.
	for _, sg := range res.Parts {
		assert.Equal(t, sg.OrigNID, sg.GlobalNID)
		assert.Equal(t, sg.OrigEID, sg.GlobalEID)
	}
}

// TestPartitionNeighborhoodPreserved checks that with one hop of halo, every
// inner node sees its complete in-neighborhood inside its own subgraph.
func TestPartitionNeighborhoodPreserved(t *testing.T) {
	rng := testutil.NewRNG(17)
	g := testutil.RandomGraph(rng, 150, 600)

	res, err := Partition(g, 4, WithSeed(17), WithHaloHops(1))
	require.NoError(t, err)

	for _, sg := range res.Parts {
		for l := int64(0); l < sg.NumInnerNodes; l++ {
			orig := sg.OrigNID[l]
			want := g.SortedPredecessors(orig)

			got := make([]graph.NodeID, 0)
			for _, s := range sg.G.Predecessors(graph.NodeID(l)) {
				got = append(got, sg.OrigNID[s])
			}
			sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

			assert.Equal(t, want, got, "in-neighborhood of node %d", orig)
		}
	}
}

func TestPartitionHaloFlags(t *testing.T) {
	rng := testutil.NewRNG(19)
	g := testutil.RandomGraph(rng, 120, 480)

	res, err := Partition(g, 4, WithSeed(19), WithHaloHops(1))
	require.NoError(t, err)

	for part, sg := range res.Parts {
		for l, inner := range sg.InnerNode {
			assert.Equal(t, l < int(sg.NumInnerNodes), inner)
			if inner {
				assert.Equal(t, int32(part), sg.NodePart[l])
			} else {
				assert.NotEqual(t, int32(part), sg.NodePart[l])
			}
		}
		for l, inner := range sg.InnerEdge {
			assert.Equal(t, l < int(sg.NumInnerEdges), inner)
			if inner {
				// Edge ownership follows the destination node.
				_, dst := sg.G.Edge(graph.EdgeID(l))
				assert.True(t, sg.InnerNode[dst])
			}
		}
	}
}

func TestPartitionHaloHopsZero(t *testing.T) {
	g := testutil.RingGraph(12)

	res, err := Partition(g, 3, WithSeed(3), WithHaloHops(0))
	require.NoError(t, err)

	for _, sg := range res.Parts {
		assert.Equal(t, int64(len(sg.GlobalNID)), sg.NumInnerNodes, "no halo nodes expected")
		for _, inner := range sg.InnerNode {
			assert.True(t, inner)
		}
	}
}

func TestPartitionLocalLookup(t *testing.T) {
	rng := testutil.NewRNG(23)
	g := testutil.RandomGraph(rng, 80, 320)

	res, err := Partition(g, 4, WithSeed(23))
	require.NoError(t, err)

	for _, sg := range res.Parts {
		for l, gid := range sg.GlobalNID {
			got, ok := sg.LocalNID(gid)
			require.True(t, ok)
			assert.Equal(t, graph.NodeID(l), got)
		}
		for l, gid := range sg.GlobalEID {
			got, ok := sg.LocalEID(gid)
			require.True(t, ok)
			assert.Equal(t, graph.EdgeID(l), got)
		}
		_, ok := sg.LocalNID(graph.NodeID(1 << 40))
		assert.False(t, ok)
	}
}

func TestPartitionDeterministic(t *testing.T) {
	rng := testutil.NewRNG(29)
	g := testutil.RandomGraph(rng, 60, 240)

	a, err := Partition(g, 3, WithSeed(42))
	require.NoError(t, err)
	b, err := Partition(g, 3, WithSeed(42))
	require.NoError(t, err)

	for p := range a.Parts {
		assert.Equal(t, a.Parts[p].GlobalNID, b.Parts[p].GlobalNID)
		assert.Equal(t, a.Parts[p].GlobalEID, b.Parts[p].GlobalEID)
	}
}

type stubCutter struct {
	assign []int
	err    error
}

func (c *stubCutter) Cut(g *graph.Graph, numParts int, weights []int64) ([]int, error) {
	return c.assign, c.err
}

func TestPartitionMinCut(t *testing.T) {
	g := testutil.RingGraph(8)

	// Contiguous halves: a ring cut into two arcs has exactly two cut edges.
	cutter := &stubCutter{assign: []int{0, 0, 0, 0, 1, 1, 1, 1}}
	res, err := Partition(g, 2, WithMethod(MethodMinCut), WithCutter(cutter))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Parts[0].NumInnerNodes)
	assert.Equal(t, int64(4), res.Parts[1].NumInnerNodes)

	// Halo of an arc is the two adjacent ring nodes.
	assert.Equal(t, int64(6), int64(len(res.Parts[0].GlobalNID)))
}

func TestPartitionMinCutSolverError(t *testing.T) {
	g := testutil.RingGraph(8)

	cutter := &stubCutter{err: errors.New("solver exploded")}
	_, err := Partition(g, 2, WithMethod(MethodMinCut), WithCutter(cutter))

	var perr *PartitionError
	require.ErrorAs(t, err, &perr)
	assert.ErrorContains(t, err, "solver exploded")
}

func TestPartitionMinCutFallback(t *testing.T) {
	g := testutil.RingGraph(8)

	// No cutter installed: falls back to random and still succeeds.
	res, err := Partition(g, 2, WithMethod(MethodMinCut), WithSeed(5))
	require.NoError(t, err)
	checkDisjointUnion(t, g, res)
}
