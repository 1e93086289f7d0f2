package distgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/distgraph/blobstore"
	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/kvstore"
	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/partition"
	"github.com/hupe1980/distgraph/rpc"
	"github.com/hupe1980/distgraph/testutil"
)

type testCluster struct {
	nb   *rpc.Namebook
	book partbook.Book
	g    *graph.Graph
	res  *partition.Result
	stop func()
}

// startGraphCluster partitions a random graph, writes the artifacts to an
// in-memory store, and brings up one GraphServer per partition.
func startGraphCluster(t *testing.T, numNodes, numEdges int64, numParts int) *testCluster {
	t.Helper()

	rng := testutil.NewRNG(7)
	g := testutil.RandomGraph(rng, numNodes, numEdges)
	res, err := partition.Partition(g, numParts, partition.WithSeed(7))
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	_, err = partition.WriteArtifacts(context.Background(), store, "citations", res)
	require.NoError(t, err)

	var sb strings.Builder
	for i := 0; i < numParts; i++ {
		fmt.Fprintf(&sb, "127.0.0.1 %d 1\n", testutil.FreePort(t))
	}
	nb, err := rpc.ParseIPConfig(strings.NewReader(sb.String()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	servers := make([]*GraphServer, numParts)
	var wg sync.WaitGroup
	for rank := 0; rank < numParts; rank++ {
		gs, err := NewGraphServer(rank, nb, store, "citations", WithLogger(NoopLogger()))
		require.NoError(t, err)
		servers[rank] = gs

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gs.Start(ctx); err != nil {
				t.Errorf("server %d: %v", gs.Rank(), err)
			}
		}()
	}

	return &testCluster{
		nb:   nb,
		book: res.Book,
		g:    g,
		res:  res,
		stop: func() {
			cancel()
			for _, gs := range servers {
				gs.Close()
			}
			wg.Wait()
		},
	}
}

func connectGraph(t *testing.T, tc *testCluster, opts ...Option) *DistGraph {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts = append([]Option{
		WithLogger(NoopLogger()),
		WithRPCClientOptions(rpc.WithRetryInterval(50*time.Millisecond), rpc.WithMaxDials(200)),
	}, opts...)
	dg, err := Connect(ctx, tc.nb, tc.book, opts...)
	require.NoError(t, err)
	return dg
}

type edgeTriple struct{ src, dst, eid int64 }

// globalInEdges returns the reshuffled-ID in-edge triples of the source
// graph, keyed by destination global ID.
func globalInEdges(tc *testCluster) map[int64][]edgeTriple {
	out := make(map[int64][]edgeTriple)
	src, dst := tc.g.Edges()
	for e := range src {
		t := edgeTriple{
			src: int64(tc.res.NodePerm[src[e]]),
			dst: int64(tc.res.NodePerm[dst[e]]),
			eid: int64(tc.res.EdgePerm[e]),
		}
		out[t.dst] = append(out[t.dst], t)
	}
	return out
}

func sortTriples(ts []edgeTriple) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].dst != ts[j].dst {
			return ts[i].dst < ts[j].dst
		}
		return ts[i].eid < ts[j].eid
	})
}

func triples(e *EdgeList) []edgeTriple {
	out := make([]edgeTriple, e.Len())
	for i := range out {
		out[i] = edgeTriple{src: e.Src[i], dst: e.Dst[i], eid: e.EID[i]}
	}
	return out
}

func TestDistGraphMeta(t *testing.T) {
	tc := startGraphCluster(t, 100, 400, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	assert.Equal(t, "citations", dg.GraphName())
	assert.Equal(t, int64(100), dg.NumNodes())
	assert.Equal(t, int64(400), dg.NumEdges())
	assert.Equal(t, 3, dg.NumPartitions())
	assert.Equal(t, 0, dg.Rank())

	n, err := dg.NumClients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDistGraphMetaMismatch(t *testing.T) {
	tc := startGraphCluster(t, 100, 400, 3)
	defer tc.stop()

	// A book with the right partition count but the wrong totals.
	wrong, err := partbook.NewRangeBook([]int64{0, 40, 80, 120}, []int64{0, 160, 320, 480})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = Connect(ctx, tc.nb, wrong,
		WithLogger(NoopLogger()),
		WithRPCClientOptions(rpc.WithRetryInterval(50*time.Millisecond), rpc.WithMaxDials(200)))

	var mm *MetaMismatchError
	require.ErrorAs(t, err, &mm)
}

func TestDistGraphNodeData(t *testing.T) {
	tc := startGraphCluster(t, 60, 240, 2)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()
	ctx := context.Background()

	feat, err := dg.InitNodeData(ctx, "feat", kvstore.Scheme{Shape: []int64{2}, DType: kvstore.Float32})
	require.NoError(t, err)

	// Every row starts zeroed.
	ids := make([]int64, dg.NumNodes())
	for i := range ids {
		ids[i] = int64(i)
	}
	data, err := feat.Pull(ctx, ids)
	require.NoError(t, err)
	vals, err := kvstore.BytesToFloat32(data)
	require.NoError(t, err)
	for _, v := range vals {
		require.Zero(t, v)
	}

	// Write a distinct value per row, read back in scrambled order.
	want := make([]float32, 2*len(ids))
	for i := range ids {
		want[2*i] = float32(i)
		want[2*i+1] = -float32(i)
	}
	require.NoError(t, feat.Push(ctx, ids, kvstore.Float32ToBytes(want)))

	scrambled := []int64{59, 0, 31, 7, 30}
	data, err = feat.Pull(ctx, scrambled)
	require.NoError(t, err)
	vals, err = kvstore.BytesToFloat32(data)
	require.NoError(t, err)
	for i, id := range scrambled {
		assert.Equal(t, float32(id), vals[2*i])
		assert.Equal(t, -float32(id), vals[2*i+1])
	}

	schemes, err := dg.NodeAttrSchemes(ctx)
	require.NoError(t, err)
	require.Contains(t, schemes, "feat")
	assert.Equal(t, int64(8), schemes["feat"].RowBytes())

	scheme, err := feat.Scheme(ctx)
	require.NoError(t, err)
	assert.Equal(t, kvstore.Float32, scheme.DType)
}

func TestDistGraphEdgeData(t *testing.T) {
	tc := startGraphCluster(t, 40, 160, 2)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()
	ctx := context.Background()

	w, err := dg.InitEdgeData(ctx, "weight", kvstore.Scheme{Shape: []int64{1}, DType: kvstore.Float64})
	require.NoError(t, err)

	ids := []int64{0, 80, 159, 41}
	vals := []float64{0.5, 1.5, 2.5, 3.5}
	require.NoError(t, w.Push(ctx, ids, kvstore.Float64ToBytes(vals)))

	data, err := w.Pull(ctx, []int64{159, 0, 41, 80})
	require.NoError(t, err)
	got, err := kvstore.BytesToFloat64(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 0.5, 3.5, 1.5}, got)

	schemes, err := dg.EdgeAttrSchemes(ctx)
	require.NoError(t, err)
	require.Contains(t, schemes, "weight")
}

func TestDistGraphNodeSplit(t *testing.T) {
	tc := startGraphCluster(t, 90, 360, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	mask := make([]bool, dg.NumNodes())
	for i := range mask {
		mask[i] = i%3 == 0
	}

	var union []int64
	for part := 0; part < dg.NumPartitions(); part++ {
		ids, err := dg.NodeSplit(mask, part)
		require.NoError(t, err)
		assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }))
		for _, id := range ids {
			require.True(t, mask[id])
			p, err := tc.book.NID2PartID(graph.NodeID(id))
			require.NoError(t, err)
			require.Equal(t, part, p)
		}
		union = append(union, ids...)
	}

	// Every masked node lands in exactly one partition's split.
	assert.Len(t, union, 30)
}

func TestDistGraphInEdges(t *testing.T) {
	tc := startGraphCluster(t, 80, 320, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	truth := globalInEdges(tc)
	query := []int64{3, 77, 15, 40}

	edges, err := dg.InEdges(context.Background(), query)
	require.NoError(t, err)

	var want []edgeTriple
	for _, id := range query {
		want = append(want, truth[id]...)
	}
	got := triples(edges)
	sortTriples(want)
	sortTriples(got)
	assert.Equal(t, want, got)
}

func TestDistGraphInEdgesRequestOrder(t *testing.T) {
	tc := startGraphCluster(t, 80, 320, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	truth := globalInEdges(tc)

	// Two nodes with in-edges, owned by partition 2 and partition 0. Querying
	// the high partition first catches any merge that follows partition order
	// instead of request order.
	pick := func(part int) int64 {
		for id := int64(0); id < dg.NumNodes(); id++ {
			p, err := tc.book.NID2PartID(graph.NodeID(id))
			require.NoError(t, err)
			if p == part && len(truth[id]) > 0 {
				return id
			}
		}
		t.Fatalf("no node with in-edges owned by partition %d", part)
		return 0
	}
	high := pick(2)
	low := pick(0)

	edges, err := dg.InEdges(context.Background(), []int64{high, low})
	require.NoError(t, err)
	require.Equal(t, len(truth[high])+len(truth[low]), edges.Len())

	for i := 0; i < len(truth[high]); i++ {
		require.Equal(t, high, edges.Dst[i], "edge %d belongs to the first requested node", i)
	}
	for i := len(truth[high]); i < edges.Len(); i++ {
		require.Equal(t, low, edges.Dst[i], "edge %d belongs to the second requested node", i)
	}
}

func TestDistGraphOutEdges(t *testing.T) {
	tc := startGraphCluster(t, 80, 320, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	// Invert the in-edge truth into per-source lists.
	bySrc := make(map[int64][]edgeTriple)
	for _, ts := range globalInEdges(tc) {
		for _, tr := range ts {
			bySrc[tr.src] = append(bySrc[tr.src], tr)
		}
	}
	query := []int64{0, 42, 79}

	edges, err := dg.OutEdges(context.Background(), query)
	require.NoError(t, err)

	var want []edgeTriple
	for _, id := range query {
		want = append(want, bySrc[id]...)
	}
	got := triples(edges)
	sortTriples(want)
	sortTriples(got)
	assert.Equal(t, want, got)
}

func TestDistGraphSampleNeighbors(t *testing.T) {
	tc := startGraphCluster(t, 80, 320, 3)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	truth := globalInEdges(tc)
	seeds := make([]int64, 20)
	for i := range seeds {
		seeds[i] = int64(i * 4)
	}

	const fanout = 2
	edges, err := dg.SampleNeighbors(context.Background(), seeds, fanout)
	require.NoError(t, err)

	// Each sampled edge must exist, each seed yields min(fanout, indegree)
	// distinct edges.
	valid := make(map[edgeTriple]bool)
	perSeed := make(map[int64]int)
	for _, ts := range truth {
		for _, tr := range ts {
			valid[tr] = true
		}
	}
	seen := make(map[edgeTriple]bool)
	for _, tr := range triples(edges) {
		require.True(t, valid[tr], "sampled edge %+v not in graph", tr)
		require.False(t, seen[tr], "edge %+v sampled twice", tr)
		seen[tr] = true
		perSeed[tr.dst]++
	}
	for _, seed := range seeds {
		want := len(truth[seed])
		if want > fanout {
			want = fanout
		}
		assert.Equal(t, want, perSeed[seed], "seed %d", seed)
	}

	// Negative fanout keeps the whole neighborhood.
	all, err := dg.SampleNeighbors(context.Background(), seeds, -1)
	require.NoError(t, err)
	wantTotal := 0
	for _, seed := range seeds {
		wantTotal += len(truth[seed])
	}
	assert.Equal(t, wantTotal, all.Len())
}

func TestDistGraphShutdown(t *testing.T) {
	tc := startGraphCluster(t, 30, 90, 2)
	defer tc.stop()

	dg := connectGraph(t, tc)
	require.NoError(t, dg.Shutdown(context.Background()))
	require.NoError(t, dg.Close())

	// Closed handles reject further work.
	_, err := dg.InEdges(context.Background(), []int64{0})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, dg.Close())
}

func TestDistGraphShutdownOnClose(t *testing.T) {
	tc := startGraphCluster(t, 30, 90, 2)
	defer tc.stop()

	dg := connectGraph(t, tc, WithShutdownOnClose(true))
	require.NoError(t, dg.Close())

	// Servers tear down shortly after the broadcast; once they have, a fresh
	// connection attempt cannot complete.
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := Connect(ctx, tc.nb, tc.book,
			WithLogger(NoopLogger()),
			WithRPCClientOptions(rpc.WithRetryInterval(20*time.Millisecond), rpc.WithMaxDials(3)))
		return err != nil
	}, 10*time.Second, 100*time.Millisecond)
}

func TestDistGraphMetrics(t *testing.T) {
	tc := startGraphCluster(t, 40, 120, 2)
	defer tc.stop()

	metrics := &BasicMetricsCollector{}
	dg := connectGraph(t, tc, WithMetrics(metrics))
	defer dg.Close()
	ctx := context.Background()

	feat, err := dg.InitNodeData(ctx, "h", kvstore.Scheme{Shape: []int64{4}, DType: kvstore.Float32})
	require.NoError(t, err)
	_, err = feat.Pull(ctx, []int64{0, 1, 2})
	require.NoError(t, err)
	_, err = dg.InEdges(ctx, []int64{0})
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.InitCount)
	assert.Equal(t, int64(1), stats.PullCount)
	assert.Equal(t, int64(3), stats.PullRows)
	assert.Equal(t, int64(1), stats.QueryCount)
	assert.Zero(t, stats.PullErrors)
}

func TestDistGraphFourWayScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("full cluster scenario")
	}
	tc := startGraphCluster(t, 1000, 4000, 4)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()
	ctx := context.Background()

	require.Equal(t, int64(1000), dg.NumNodes())
	require.Equal(t, int64(4000), dg.NumEdges())

	// Ownership covers every node exactly once across the four partitions.
	mask := make([]bool, dg.NumNodes())
	for i := range mask {
		mask[i] = true
	}
	total := 0
	for part := 0; part < 4; part++ {
		ids, err := dg.NodeSplit(mask, part)
		require.NoError(t, err)
		total += len(ids)
	}
	require.Equal(t, 1000, total)

	// Feature round-trip over the full graph.
	feat, err := dg.InitNodeData(ctx, "feat", kvstore.Scheme{Shape: []int64{4}, DType: kvstore.Float32})
	require.NoError(t, err)

	ids := make([]int64, dg.NumNodes())
	want := make([]float32, 4*len(ids))
	for i := range ids {
		ids[i] = int64(i)
		for j := 0; j < 4; j++ {
			want[4*i+j] = float32(i*4 + j)
		}
	}
	require.NoError(t, feat.Push(ctx, ids, kvstore.Float32ToBytes(want)))

	// Pull in reverse order; rows must still line up with the request.
	rev := make([]int64, len(ids))
	for i := range rev {
		rev[i] = int64(len(ids) - 1 - i)
	}
	data, err := feat.Pull(ctx, rev)
	require.NoError(t, err)
	got, err := kvstore.BytesToFloat32(data)
	require.NoError(t, err)
	for i, id := range rev {
		for j := 0; j < 4; j++ {
			require.Equal(t, float32(id*4+int64(j)), got[4*i+j])
		}
	}

	// Structural queries agree with the source graph across all partitions.
	truth := globalInEdges(tc)
	seeds := []int64{0, 250, 500, 750, 999}
	edges, err := dg.InEdges(ctx, seeds)
	require.NoError(t, err)
	wantEdges := 0
	for _, s := range seeds {
		wantEdges += len(truth[s])
	}
	require.Equal(t, wantEdges, edges.Len())
}

func TestDistGraphUnownedID(t *testing.T) {
	tc := startGraphCluster(t, 20, 60, 2)
	defer tc.stop()

	dg := connectGraph(t, tc)
	defer dg.Close()

	_, err := dg.InEdges(context.Background(), []int64{999})
	var unowned *partbook.UnownedIDError
	require.True(t, errors.As(err, &unowned))
	assert.Equal(t, int64(999), unowned.GlobalID)
}
