package distgraph

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/kvstore"
	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/rpc"
)

// DistGraph is the client-side view of a partitioned graph cluster. One
// instance connects to every server, routes tensor and structural requests by
// ownership, and presents the graph as a single object.
//
// All methods are safe for concurrent use.
type DistGraph struct {
	rc   *rpc.Client
	kv   *kvstore.Client
	book partbook.Book
	opts options

	graphName string
	numNodes  int64
	numEdges  int64

	logger *Logger
	closed atomic.Bool
}

// Connect joins the cluster described by nb using the given partition book
// and validates that every side agrees on the graph's shape.
func Connect(ctx context.Context, nb *rpc.Namebook, book partbook.Book, opts ...Option) (*DistGraph, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	rc, err := rpc.Connect(ctx, nb,
		append([]rpc.ClientOption{rpc.WithClientLogger(o.logger.Logger)}, o.clientOpts...)...)
	if err != nil {
		return nil, err
	}

	g := &DistGraph{
		rc:   rc,
		book: book,
		opts: o,
	}
	g.logger = o.logger.WithRank(rc.Rank())

	kv, err := kvstore.NewClient(rc, book, kvstore.WithClientLogger(g.logger.Logger))
	if err != nil {
		rc.Close()
		return nil, err
	}
	g.kv = kv

	var meta graphMetaResponse
	if err := rc.Call(ctx, 0, &graphMetaRequest{}, &meta); err != nil {
		rc.Close()
		return nil, err
	}
	if err := g.checkMeta(&meta); err != nil {
		rc.Close()
		return nil, err
	}
	g.graphName = meta.GraphName
	g.numNodes = meta.NumNodes
	g.numEdges = meta.NumEdges

	g.logger.Info("connected",
		"graph", meta.GraphName,
		"nodes", meta.NumNodes,
		"edges", meta.NumEdges,
		"partitions", meta.NumParts,
	)
	return g, nil
}

func (g *DistGraph) checkMeta(meta *graphMetaResponse) error {
	if int64(meta.NumParts) != int64(g.book.NumPartitions()) {
		return &MetaMismatchError{Field: "partition count",
			Local: int64(g.book.NumPartitions()), Remote: int64(meta.NumParts)}
	}
	if meta.NumNodes != g.book.NumNodes() {
		return &MetaMismatchError{Field: "node count",
			Local: g.book.NumNodes(), Remote: meta.NumNodes}
	}
	if meta.NumEdges != g.book.NumEdges() {
		return &MetaMismatchError{Field: "edge count",
			Local: g.book.NumEdges(), Remote: meta.NumEdges}
	}
	return nil
}

func (g *DistGraph) checkOpen() error {
	if g.closed.Load() {
		return ErrClosed
	}
	return nil
}

// GraphName returns the name the cluster serves the graph under.
func (g *DistGraph) GraphName() string { return g.graphName }

// NumNodes returns the total node count of the full graph.
func (g *DistGraph) NumNodes() int64 { return g.numNodes }

// NumEdges returns the total edge count of the full graph.
func (g *DistGraph) NumEdges() int64 { return g.numEdges }

// NumPartitions returns the number of partitions (== servers).
func (g *DistGraph) NumPartitions() int { return g.book.NumPartitions() }

// Rank returns this client's cluster rank.
func (g *DistGraph) Rank() int { return g.rc.Rank() }

// Book returns the partition book the client routes with.
func (g *DistGraph) Book() partbook.Book { return g.book }

// NumClients asks server 0 how many clients have registered so far.
func (g *DistGraph) NumClients(ctx context.Context) (int, error) {
	if err := g.checkOpen(); err != nil {
		return 0, err
	}
	return g.rc.NumClients(ctx)
}

// ---------------------------------------------------------------------------
// Tensor data
// ---------------------------------------------------------------------------

// Tensor is a handle on one distributed tensor. It carries no state beyond
// the name; all traffic goes through the owning DistGraph.
type Tensor struct {
	g    *DistGraph
	name string
}

// NodeData returns a handle on the named node tensor. The tensor need not
// exist yet; operations fail until it is initialized.
func (g *DistGraph) NodeData(name string) *Tensor { return &Tensor{g: g, name: name} }

// EdgeData returns a handle on the named edge tensor.
func (g *DistGraph) EdgeData(name string) *Tensor { return &Tensor{g: g, name: name} }

// InitNodeData creates a node tensor on every server, one row per owned
// node, zero-initialized. Identical re-initialization is a no-op.
func (g *DistGraph) InitNodeData(ctx context.Context, name string, scheme kvstore.Scheme) (*Tensor, error) {
	return g.initData(ctx, name, kvstore.KindNode, scheme)
}

// InitEdgeData creates an edge tensor on every server, one row per owned
// edge.
func (g *DistGraph) InitEdgeData(ctx context.Context, name string, scheme kvstore.Scheme) (*Tensor, error) {
	return g.initData(ctx, name, kvstore.KindEdge, scheme)
}

func (g *DistGraph) initData(ctx context.Context, name string, kind kvstore.Kind, scheme kvstore.Scheme) (*Tensor, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	err := g.kv.Init(ctx, name, kind, scheme)
	g.opts.metrics.RecordInit(time.Since(start), err)
	g.logger.LogInit(ctx, name, err)
	if err != nil {
		return nil, err
	}
	return &Tensor{g: g, name: name}, nil
}

// NodeAttrSchemes lists all node tensors with their layouts.
func (g *DistGraph) NodeAttrSchemes(ctx context.Context) (map[string]kvstore.Scheme, error) {
	return g.attrSchemes(ctx, kvstore.KindNode)
}

// EdgeAttrSchemes lists all edge tensors with their layouts.
func (g *DistGraph) EdgeAttrSchemes(ctx context.Context) (map[string]kvstore.Scheme, error) {
	return g.attrSchemes(ctx, kvstore.KindEdge)
}

func (g *DistGraph) attrSchemes(ctx context.Context, kind kvstore.Kind) (map[string]kvstore.Scheme, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	names, err := g.kv.Names(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]kvstore.Scheme, len(names))
	for _, name := range names {
		scheme, _, err := g.kv.Scheme(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = scheme
	}
	return out, nil
}

// Name returns the tensor's name.
func (t *Tensor) Name() string { return t.name }

// Scheme returns the tensor's per-row layout.
func (t *Tensor) Scheme(ctx context.Context) (kvstore.Scheme, error) {
	if err := t.g.checkOpen(); err != nil {
		return kvstore.Scheme{}, err
	}
	scheme, _, err := t.g.kv.Scheme(ctx, t.name)
	return scheme, err
}

// Pull reads the rows of the given global IDs from their owning servers.
// Row i of the result corresponds to ids[i].
func (t *Tensor) Pull(ctx context.Context, ids []int64) ([]byte, error) {
	if err := t.g.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := t.g.kv.Pull(ctx, t.name, ids)
	t.g.opts.metrics.RecordPull(len(ids), time.Since(start), err)
	t.g.logger.LogPull(ctx, t.name, len(ids), err)
	return data, err
}

// Push overwrites the rows of the given global IDs on their owning servers.
// data holds len(ids) flat rows in the same order as ids.
func (t *Tensor) Push(ctx context.Context, ids []int64, data []byte) error {
	if err := t.g.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	err := t.g.kv.Push(ctx, t.name, ids, data)
	t.g.opts.metrics.RecordPush(len(ids), time.Since(start), err)
	t.g.logger.LogPush(ctx, t.name, len(ids), err)
	return err
}

// ---------------------------------------------------------------------------
// Training splits
// ---------------------------------------------------------------------------

// NodeSplit selects the global node IDs in mask (mask[i] covers global ID i,
// len(mask) == NumNodes) that partition partID owns, in ascending order.
// Trainers co-located with a server call this with their server's partition
// to work on local data only.
func (g *DistGraph) NodeSplit(mask []bool, partID int) ([]int64, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	owned, err := g.book.PartID2NIDs(partID)
	if err != nil {
		return nil, err
	}
	return maskIntersect(mask, owned), nil
}

// EdgeSplit is NodeSplit for edge IDs (len(mask) == NumEdges).
func (g *DistGraph) EdgeSplit(mask []bool, partID int) ([]int64, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	owned, err := g.book.PartID2EIDs(partID)
	if err != nil {
		return nil, err
	}
	return maskIntersect(mask, owned), nil
}

func maskIntersect(mask []bool, owned *roaring64.Bitmap) []int64 {
	selected := roaring64.New()
	for i, m := range mask {
		if m {
			selected.Add(uint64(i))
		}
	}
	selected.And(owned)

	out := make([]int64, 0, selected.GetCardinality())
	it := selected.Iterator()
	for it.HasNext() {
		out = append(out, int64(it.Next()))
	}
	return out
}

// ---------------------------------------------------------------------------
// Structural queries
// ---------------------------------------------------------------------------

// SampleNeighbors samples up to fanout in-edges per seed node, uniformly
// without replacement. fanout < 0 keeps the full in-neighborhood. Edges are
// grouped by seed in seed order; within one seed the order is unspecified.
func (g *DistGraph) SampleNeighbors(ctx context.Context, seeds []int64, fanout int64) (*EdgeList, error) {
	start := time.Now()
	edges, err := g.fanOutByNode(ctx, seeds, func(ids []int64) rpc.Request {
		return &sampleNeighborsRequest{Seeds: ids, Fanout: fanout}
	})
	g.opts.metrics.RecordQuery(time.Since(start), err)
	if err == nil {
		g.logger.LogSample(ctx, len(seeds), edges.Len(), err)
	} else {
		g.logger.LogSample(ctx, len(seeds), 0, err)
	}
	return edges, err
}

// InEdges returns every in-edge of the given nodes, grouped by node in
// request order.
func (g *DistGraph) InEdges(ctx context.Context, ids []int64) (*EdgeList, error) {
	start := time.Now()
	edges, err := g.fanOutByNode(ctx, ids, func(ids []int64) rpc.Request {
		return &inEdgesRequest{IDs: ids}
	})
	g.opts.metrics.RecordQuery(time.Since(start), err)
	return edges, err
}

// OutEdges returns every out-edge of the given nodes, grouped by node in
// request order.
func (g *DistGraph) OutEdges(ctx context.Context, ids []int64) (*EdgeList, error) {
	start := time.Now()
	edges, err := g.fanOutByNode(ctx, ids, func(ids []int64) rpc.Request {
		return &outEdgesRequest{IDs: ids}
	})
	g.opts.metrics.RecordQuery(time.Since(start), err)
	return edges, err
}

// fanOutByNode splits node IDs by owning partition, issues one request per
// touched server, and reassembles the per-node edge groups back into request
// order using the group counts each server reports.
func (g *DistGraph) fanOutByNode(ctx context.Context, ids []int64, makeReq func([]int64) rpc.Request) (*EdgeList, error) {
	if err := g.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &EdgeList{}, nil
	}

	byPart := make(map[int][]int64)
	posByPart := make(map[int][]int)
	for i, id := range ids {
		p, err := g.book.NID2PartID(graph.NodeID(id))
		if err != nil {
			return nil, err
		}
		byPart[p] = append(byPart[p], id)
		posByPart[p] = append(posByPart[p], i)
	}

	// Goroutines write disjoint slots indexed by original request position.
	groups := make([]EdgeList, len(ids))

	eg, gctx := errgroup.WithContext(ctx)
	for part, partIDs := range byPart {
		positions := posByPart[part]
		eg.Go(func() error {
			req := makeReq(partIDs)
			edges, counts, err := callEdges(gctx, g.rc, part, req)
			if err != nil {
				return err
			}
			if len(counts) != len(partIDs) {
				return fmt.Errorf("distgraph: server %d returned %d edge groups for %d nodes", part, len(counts), len(partIDs))
			}
			cursor := 0
			for i, n := range counts {
				end := cursor + int(n)
				if n < 0 || end > edges.Len() {
					return fmt.Errorf("distgraph: server %d edge group counts exceed %d edges", part, edges.Len())
				}
				groups[positions[i]] = EdgeList{
					Src: edges.Src[cursor:end],
					Dst: edges.Dst[cursor:end],
					EID: edges.EID[cursor:end],
				}
				cursor = end
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &EdgeList{}
	for i := range groups {
		out.merge(&groups[i])
	}
	return out, nil
}

// callEdges dispatches a structural request and extracts its edge list plus
// the per-node group counts.
func callEdges(ctx context.Context, rc *rpc.Client, server int, req rpc.Request) (*EdgeList, []int64, error) {
	switch req.(type) {
	case *sampleNeighborsRequest:
		var resp sampleNeighborsResponse
		if err := rc.Call(ctx, server, req, &resp); err != nil {
			return nil, nil, err
		}
		return &resp.Edges, resp.Counts, nil
	case *inEdgesRequest:
		var resp inEdgesResponse
		if err := rc.Call(ctx, server, req, &resp); err != nil {
			return nil, nil, err
		}
		return &resp.Edges, resp.Counts, nil
	case *outEdgesRequest:
		var resp outEdgesResponse
		if err := rc.Call(ctx, server, req, &resp); err != nil {
			return nil, nil, err
		}
		return &resp.Edges, resp.Counts, nil
	default:
		return nil, nil, errors.New("distgraph: unsupported structural request")
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Shutdown broadcasts the cluster shutdown to every server. The broadcast is
// owned by client rank 0; any other rank's call is a logged no-op.
func (g *DistGraph) Shutdown(ctx context.Context) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	return g.rc.Shutdown(ctx)
}

// Close disconnects from the cluster. With WithShutdownOnClose and rank 0 it
// broadcasts the cluster shutdown first. Close is idempotent.
func (g *DistGraph) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	if g.opts.shutdownOnClose && g.rc.Rank() == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := g.rc.Shutdown(ctx)
		cancel()
		if err != nil {
			g.logger.Warn("shutdown broadcast failed", "error", err)
		}
	}
	return g.rc.Close()
}
