package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/rpc"
	"github.com/hupe1980/distgraph/testutil"
)

// startKVCluster brings up one rpc server per partition of the book, each
// backed by a kvstore.Server with book-derived resolvers.
func startKVCluster(t *testing.T, book partbook.Book) (*rpc.Namebook, func()) {
	t.Helper()

	numParts := book.NumPartitions()
	var sb strings.Builder
	for i := 0; i < numParts; i++ {
		fmt.Fprintf(&sb, "127.0.0.1 %d 1\n", testutil.FreePort(t))
	}
	nb, err := rpc.ParseIPConfig(strings.NewReader(sb.String()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	servers := make([]*rpc.Server, numParts)
	var wg sync.WaitGroup
	for part := 0; part < numParts; part++ {
		kv := NewServer()
		nodeSet, err := book.PartID2NIDs(part)
		require.NoError(t, err)
		edgeSet, err := book.PartID2EIDs(part)
		require.NoError(t, err)
		require.NoError(t, kv.AddKind(KindNode, int64(nodeSet.GetCardinality()), BookNodeResolver(book, part)))
		require.NoError(t, kv.AddKind(KindEdge, int64(edgeSet.GetCardinality()), BookEdgeResolver(book, part)))

		reg := rpc.NewRegistry()
		require.NoError(t, RegisterServices(reg, kv))

		srv, err := rpc.NewServer(part, nb, reg)
		require.NoError(t, err)
		servers[part] = srv

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); !errors.Is(err, rpc.ErrServerClosed) {
				t.Errorf("server %d: %v", srv.Rank(), err)
			}
		}()
	}

	return nb, func() {
		cancel()
		for _, srv := range servers {
			srv.Close()
		}
		wg.Wait()
	}
}

func connectKV(t *testing.T, nb *rpc.Namebook, book partbook.Book) (*Client, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc, err := rpc.Connect(ctx, nb, rpc.WithRetryInterval(50*time.Millisecond), rpc.WithMaxDials(200))
	require.NoError(t, err)

	c, err := NewClient(rc, book)
	require.NoError(t, err)
	return c, func() { rc.Close() }
}

func testBook(t *testing.T, numNodes, numEdges int64, numParts int) partbook.Book {
	t.Helper()
	nodeStarts := make([]int64, numParts+1)
	edgeStarts := make([]int64, numParts+1)
	for p := 1; p <= numParts; p++ {
		nodeStarts[p] = numNodes * int64(p) / int64(numParts)
		edgeStarts[p] = numEdges * int64(p) / int64(numParts)
	}
	book, err := partbook.NewRangeBook(nodeStarts, edgeStarts)
	require.NoError(t, err)
	return book
}

func TestClientPushPullRoundTrip(t *testing.T) {
	book := testBook(t, 10, 16, 2)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	scheme := Scheme{Shape: []int64{2}, DType: Float32}
	require.NoError(t, c.Init(ctx, "feat", KindNode, scheme))

	// Identical re-init is a cluster-wide no-op.
	require.NoError(t, c.Init(ctx, "feat", KindNode, scheme))

	// IDs interleaved across both partitions, in scrambled order.
	ids := []int64{7, 1, 9, 0, 4, 6}
	rows := make([]float32, 0, len(ids)*2)
	for _, id := range ids {
		rows = append(rows, float32(id), float32(id)*10)
	}
	require.NoError(t, c.Push(ctx, "feat", ids, Float32ToBytes(rows)))

	// Pull in a different order: row i must match ids[i].
	pullIDs := []int64{0, 9, 4, 7}
	data, err := c.Pull(ctx, "feat", pullIDs)
	require.NoError(t, err)
	got, err := BytesToFloat32(data)
	require.NoError(t, err)
	want := []float32{0, 0, 9, 90, 4, 40, 7, 70}
	assert.Equal(t, want, got)

	// Untouched rows are zero.
	data, err = c.Pull(ctx, "feat", []int64{2})
	require.NoError(t, err)
	got, err = BytesToFloat32(data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, got)
}

func TestClientRandomRows(t *testing.T) {
	const (
		numNodes = 50
		dim      = 4
	)
	book := testBook(t, numNodes, 1, 3)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	require.NoError(t, c.Init(ctx, "emb", KindNode, Scheme{Shape: []int64{dim}, DType: Float32}))

	rng := testutil.NewRNG(41)
	rows := rng.UniformRows(numNodes, dim)

	ids := make([]int64, numNodes)
	flat := make([]float32, 0, numNodes*dim)
	for i := range ids {
		ids[i] = int64(i)
		flat = append(flat, rows[i]...)
	}
	require.NoError(t, c.Push(ctx, "emb", ids, Float32ToBytes(flat)))

	// A scrambled subset crossing all three partitions.
	pullIDs := []int64{49, 2, 17, 33, 0}
	data, err := c.Pull(ctx, "emb", pullIDs)
	require.NoError(t, err)
	got, err := BytesToFloat32(data)
	require.NoError(t, err)
	require.Len(t, got, len(pullIDs)*dim)
	for i, id := range pullIDs {
		assert.Equal(t, rows[id], got[i*dim:(i+1)*dim], "row for node %d", id)
	}

	// Overwrite two rows with fresh random data and read them back.
	patch := make([]float32, 2*dim)
	rng.FillUniform(patch)
	patchIDs := []int64{3, 47}
	require.NoError(t, c.Push(ctx, "emb", patchIDs, Float32ToBytes(patch)))

	data, err = c.Pull(ctx, "emb", patchIDs)
	require.NoError(t, err)
	got, err = BytesToFloat32(data)
	require.NoError(t, err)
	assert.Equal(t, patch, got)
}

func TestClientEdgeTensor(t *testing.T) {
	book := testBook(t, 10, 16, 2)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	require.NoError(t, c.Init(ctx, "weight", KindEdge, Scheme{Shape: []int64{1}, DType: Float64}))

	ids := []int64{15, 3, 8}
	require.NoError(t, c.Push(ctx, "weight", ids, Float64ToBytes([]float64{1.5, 0.3, 0.8})))

	data, err := c.Pull(ctx, "weight", []int64{3, 15})
	require.NoError(t, err)
	got, err := BytesToFloat64(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 1.5}, got)
}

func TestClientInitMismatch(t *testing.T) {
	book := testBook(t, 10, 16, 2)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	require.NoError(t, c.Init(ctx, "feat", KindNode, Scheme{Shape: []int64{2}, DType: Float32}))

	err := c.Init(ctx, "feat", KindNode, Scheme{Shape: []int64{3}, DType: Float32})
	var rerr *rpc.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Message, "already initialized")
}

func TestClientUnknownTensor(t *testing.T) {
	book := testBook(t, 10, 16, 2)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	_, err := c.Pull(context.Background(), "ghost", []int64{1})
	var rerr *rpc.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Message, "unknown tensor")
}

func TestClientUnownedID(t *testing.T) {
	book := testBook(t, 10, 16, 2)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	require.NoError(t, c.Init(ctx, "feat", KindNode, Scheme{Shape: []int64{1}, DType: Float32}))

	// ID outside the book's range fails client-side at the split step.
	_, err := c.Pull(ctx, "feat", []int64{999})
	var uerr *partbook.UnownedIDError
	require.ErrorAs(t, err, &uerr)
}

func TestClientLargePull(t *testing.T) {
	const numNodes = 10000
	book := testBook(t, numNodes, 1, 4)
	nb, stop := startKVCluster(t, book)
	defer stop()

	c, closeClient := connectKV(t, nb, book)
	defer closeClient()

	ctx := context.Background()
	require.NoError(t, c.Init(ctx, "emb", KindNode, Scheme{Shape: []int64{1}, DType: Float32}))

	ids := make([]int64, numNodes)
	rows := make([]float32, numNodes)
	for i := range ids {
		ids[i] = int64(i)
		rows[i] = float32(i)
	}
	require.NoError(t, c.Push(ctx, "emb", ids, Float32ToBytes(rows)))

	// Pull everything in reverse order and verify the id <-> row pairing.
	rev := make([]int64, numNodes)
	for i := range rev {
		rev[i] = int64(numNodes - 1 - i)
	}
	data, err := c.Pull(ctx, "emb", rev)
	require.NoError(t, err)
	got, err := BytesToFloat32(data)
	require.NoError(t, err)
	require.Len(t, got, numNodes)
	for i, id := range rev {
		if got[i] != float32(id) {
			t.Fatalf("row %d: got %f, want %f", i, got[i], float32(id))
		}
	}

	names, err := c.Names(ctx, KindNode)
	require.NoError(t, err)
	assert.Equal(t, []string{"emb"}, names)
}
