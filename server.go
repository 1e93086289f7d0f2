package distgraph

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/hupe1980/distgraph/blobstore"
	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/kvstore"
	"github.com/hupe1980/distgraph/partbook"
	"github.com/hupe1980/distgraph/partition"
	"github.com/hupe1980/distgraph/rpc"
)

// GraphServer serves one partition: its halo-extended subgraph for
// structural queries and its tensor shards for feature traffic. Server rank
// and partition ID coincide; the ip-config must therefore list exactly one
// server slot per partition.
type GraphServer struct {
	rank      int
	graphName string
	opts      options

	nb   *rpc.Namebook
	sg   *partition.Subgraph
	book partbook.Book
	kv   *kvstore.Server
	srv  *rpc.Server

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewGraphServer loads partition rank of graphName from store and prepares
// the RPC services. Start must be called to begin serving.
func NewGraphServer(rank int, nb *rpc.Namebook, store blobstore.BlobStore, graphName string, opts ...Option) (*GraphServer, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger.WithRank(rank).WithGraph(graphName)

	ctx := context.Background()
	m, err := partition.LoadManifest(ctx, store, graphName, o.artifactOpts...)
	if err != nil {
		return nil, err
	}
	if m.NumParts != nb.NumServers() {
		return nil, &rpc.ConfigError{Detail: fmt.Sprintf(
			"graph %q has %d partitions, ip-config lists %d servers", graphName, m.NumParts, nb.NumServers())}
	}
	book, err := partition.LoadBook(ctx, store, m)
	if err != nil {
		return nil, err
	}
	sg, err := partition.LoadPartition(ctx, store, m, rank)
	if err != nil {
		return nil, err
	}

	gs := &GraphServer{
		rank:      rank,
		graphName: graphName,
		opts:      o,
		nb:        nb,
		sg:        sg,
		book:      book,
		kv:        kvstore.NewServer(kvstore.WithLogger(logger.Logger)),
		rng:       rand.New(rand.NewSource(o.sampleSeed + int64(rank))),
	}

	if err := gs.kv.AddKind(kvstore.KindNode, sg.NumInnerNodes, kvstore.BookNodeResolver(book, rank)); err != nil {
		return nil, err
	}
	if err := gs.kv.AddKind(kvstore.KindEdge, sg.NumInnerEdges, kvstore.BookEdgeResolver(book, rank)); err != nil {
		return nil, err
	}

	reg := rpc.NewRegistry()
	if err := kvstore.RegisterServices(reg, gs.kv); err != nil {
		return nil, err
	}
	if err := gs.registerGraphServices(reg); err != nil {
		return nil, err
	}

	srv, err := rpc.NewServer(rank, nb, reg,
		append([]rpc.ServerOption{rpc.WithServerLogger(logger.Logger)}, o.serverOpts...)...)
	if err != nil {
		return nil, err
	}
	gs.srv = srv

	logger.Info("partition loaded",
		"inner_nodes", sg.NumInnerNodes,
		"halo_nodes", int64(len(sg.GlobalNID))-sg.NumInnerNodes,
		"inner_edges", sg.NumInnerEdges,
	)
	return gs, nil
}

// Rank returns the server's rank (== its partition ID).
func (gs *GraphServer) Rank() int { return gs.rank }

// KV exposes the server's tensor store, mainly for tests and tooling.
func (gs *GraphServer) KV() *kvstore.Server { return gs.kv }

// Start serves until client rank 0 shuts the cluster down, Close is called,
// or ctx is cancelled. A clean shutdown returns nil.
func (gs *GraphServer) Start(ctx context.Context) error {
	err := gs.srv.Serve(ctx)
	if err == rpc.ErrServerClosed {
		return nil
	}
	return err
}

// Close tears the server down immediately.
func (gs *GraphServer) Close() error { return gs.srv.Close() }

func (gs *GraphServer) registerGraphServices(reg *rpc.Registry) error {
	if err := reg.Register(serviceGraphMeta,
		func() rpc.Request { return &graphMetaRequest{} },
		gs.handleGraphMeta); err != nil {
		return err
	}
	if err := reg.Register(serviceSampleNeighbors,
		func() rpc.Request { return &sampleNeighborsRequest{} },
		gs.handleSampleNeighbors); err != nil {
		return err
	}
	if err := reg.Register(serviceInEdges,
		func() rpc.Request { return &inEdgesRequest{} },
		gs.handleInEdges); err != nil {
		return err
	}
	return reg.Register(serviceOutEdges,
		func() rpc.Request { return &outEdgesRequest{} },
		gs.handleOutEdges)
}

func (gs *GraphServer) handleGraphMeta(_ context.Context, _ rpc.Request) (rpc.Response, error) {
	return &graphMetaResponse{
		GraphName: gs.graphName,
		NumNodes:  gs.book.NumNodes(),
		NumEdges:  gs.book.NumEdges(),
		NumParts:  gs.book.NumPartitions(),
		PartID:    gs.rank,
	}, nil
}

// localInner resolves a global node ID to a local ID, requiring that this
// partition owns it.
func (gs *GraphServer) localInner(gid int64) (graph.NodeID, error) {
	local, err := gs.book.NID2LocalNID(graph.NodeID(gid), gs.rank)
	if err != nil {
		return 0, err
	}
	return graph.NodeID(local), nil
}

func (gs *GraphServer) handleSampleNeighbors(_ context.Context, req rpc.Request) (rpc.Response, error) {
	r := req.(*sampleNeighborsRequest)

	resp := &sampleNeighborsResponse{}
	for _, seed := range r.Seeds {
		local, err := gs.localInner(seed)
		if err != nil {
			return nil, err
		}
		srcs, eids := gs.sg.G.InEdges(local)

		before := resp.Edges.Len()
		if r.Fanout < 0 || int64(len(srcs)) <= r.Fanout {
			for i, s := range srcs {
				resp.Edges.append(int64(gs.sg.GlobalNID[s]), seed, int64(gs.sg.GlobalEID[eids[i]]))
			}
		} else {
			// Sample fanout in-edges without replacement.
			gs.rngMu.Lock()
			perm := gs.rng.Perm(len(srcs))
			gs.rngMu.Unlock()
			for _, i := range perm[:r.Fanout] {
				resp.Edges.append(int64(gs.sg.GlobalNID[srcs[i]]), seed, int64(gs.sg.GlobalEID[eids[i]]))
			}
		}
		resp.Counts = append(resp.Counts, int64(resp.Edges.Len()-before))
	}
	return resp, nil
}

func (gs *GraphServer) handleInEdges(_ context.Context, req rpc.Request) (rpc.Response, error) {
	r := req.(*inEdgesRequest)

	resp := &inEdgesResponse{}
	for _, gid := range r.IDs {
		local, err := gs.localInner(gid)
		if err != nil {
			return nil, err
		}
		srcs, eids := gs.sg.G.InEdges(local)
		for i, s := range srcs {
			resp.Edges.append(int64(gs.sg.GlobalNID[s]), gid, int64(gs.sg.GlobalEID[eids[i]]))
		}
		resp.Counts = append(resp.Counts, int64(len(srcs)))
	}
	return resp, nil
}

// handleOutEdges lists out-edges of owned nodes. With at least one halo hop
// every destination is present locally even when another partition owns the
// edge.
func (gs *GraphServer) handleOutEdges(_ context.Context, req rpc.Request) (rpc.Response, error) {
	r := req.(*outEdgesRequest)

	resp := &outEdgesResponse{}
	for _, gid := range r.IDs {
		local, err := gs.localInner(gid)
		if err != nil {
			return nil, err
		}
		dsts, eids := gs.sg.G.OutEdges(local)
		for i, d := range dsts {
			resp.Edges.append(gid, int64(gs.sg.GlobalNID[d]), int64(gs.sg.GlobalEID[eids[i]]))
		}
		resp.Counts = append(resp.Counts, int64(len(dsts)))
	}
	return resp, nil
}
