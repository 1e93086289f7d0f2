package partbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/distgraph/graph"
)

func newTestRangeBook(t *testing.T) *RangeBook {
	t.Helper()
	// 3 partitions: nodes [0,4) [4,7) [7,10), edges [0,10) [10,15) [15,22)
	b, err := NewRangeBook([]int64{0, 4, 7, 10}, []int64{0, 10, 15, 22})
	require.NoError(t, err)
	return b
}

func TestRangeBookLookup(t *testing.T) {
	b := newTestRangeBook(t)

	assert.Equal(t, 3, b.NumPartitions())
	assert.Equal(t, int64(10), b.NumNodes())
	assert.Equal(t, int64(22), b.NumEdges())

	for gid, want := range map[graph.NodeID]int{0: 0, 3: 0, 4: 1, 6: 1, 7: 2, 9: 2} {
		got, err := b.NID2PartID(gid)
		require.NoError(t, err)
		assert.Equal(t, want, got, "node %d", gid)
	}

	p, err := b.EID2PartID(14)
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	_, err = b.NID2PartID(10)
	var unowned *UnownedIDError
	assert.ErrorAs(t, err, &unowned)
}

func TestRangeBookLocalTranslation(t *testing.T) {
	b := newTestRangeBook(t)

	local, err := b.NID2LocalNID(5, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), local)

	_, err = b.NID2LocalNID(5, 2)
	var oop *OutOfPartitionError
	require.ErrorAs(t, err, &oop)
	assert.Equal(t, int64(5), oop.GlobalID)
	assert.Equal(t, 2, oop.PartID)

	gids, err := b.Local2GlobalNID(1, []int64{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{4, 5, 6}, gids)

	eids, err := b.Local2GlobalEID(2, []int64{0, 6})
	require.NoError(t, err)
	assert.Equal(t, []graph.EdgeID{15, 21}, eids)
}

func TestRangeBookRoundTrip(t *testing.T) {
	b := newTestRangeBook(t)

	for gid := graph.NodeID(0); gid < 10; gid++ {
		part, err := b.NID2PartID(gid)
		require.NoError(t, err)
		local, err := b.NID2LocalNID(gid, part)
		require.NoError(t, err)
		back, err := b.Local2GlobalNID(part, []int64{local})
		require.NoError(t, err)
		assert.Equal(t, gid, back[0])
	}
}

func TestRangeBookOwnedSets(t *testing.T) {
	b := newTestRangeBook(t)

	bm, err := b.PartID2NIDs(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), bm.GetCardinality())
	assert.True(t, bm.Contains(4))
	assert.True(t, bm.Contains(6))
	assert.False(t, bm.Contains(7))
}

func TestRangeBookValidation(t *testing.T) {
	_, err := NewRangeBook([]int64{0}, []int64{0})
	assert.ErrorIs(t, err, ErrEmptyBook)

	_, err = NewRangeBook([]int64{1, 4}, []int64{0, 4})
	assert.Error(t, err, "boundaries must start at 0")

	_, err = NewRangeBook([]int64{0, 5, 3}, []int64{0, 1, 2})
	assert.Error(t, err, "boundaries must be sorted")
}

func newTestExplicitBook(t *testing.T) *ExplicitBook {
	t.Helper()
	// Interleaved ownership that a range book could not express.
	b, err := NewExplicitBook(
		[][]graph.NodeID{{0, 2, 4}, {1, 3, 5}},
		[][]graph.EdgeID{{0, 3}, {1, 2}},
	)
	require.NoError(t, err)
	return b
}

func TestExplicitBookLookup(t *testing.T) {
	b := newTestExplicitBook(t)

	assert.Equal(t, 2, b.NumPartitions())
	assert.Equal(t, int64(6), b.NumNodes())
	assert.Equal(t, int64(4), b.NumEdges())

	p, err := b.NID2PartID(3)
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	local, err := b.NID2LocalNID(4, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), local)

	_, err = b.NID2LocalNID(4, 1)
	var oop *OutOfPartitionError
	assert.ErrorAs(t, err, &oop)

	gids, err := b.Local2GlobalNID(1, []int64{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{5, 1}, gids)
}

func TestExplicitBookRoundTrip(t *testing.T) {
	b := newTestExplicitBook(t)

	for gid := graph.NodeID(0); gid < 6; gid++ {
		part, err := b.NID2PartID(gid)
		require.NoError(t, err)
		local, err := b.NID2LocalNID(gid, part)
		require.NoError(t, err)
		back, err := b.Local2GlobalNID(part, []int64{local})
		require.NoError(t, err)
		assert.Equal(t, gid, back[0])
	}
}

func TestExplicitBookRejectsDoubleOwnership(t *testing.T) {
	_, err := NewExplicitBook(
		[][]graph.NodeID{{0, 1}, {1, 2}},
		[][]graph.EdgeID{{}, {}},
	)
	assert.Error(t, err)
}

func TestExplicitBookOwnedSets(t *testing.T) {
	b := newTestExplicitBook(t)

	bm, err := b.PartID2NIDs(0)
	require.NoError(t, err)
	assert.True(t, bm.Contains(0))
	assert.True(t, bm.Contains(4))
	assert.False(t, bm.Contains(1))
}
