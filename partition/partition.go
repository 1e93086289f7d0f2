// Package partition turns one large directed graph into per-partition
// subgraphs plus a partition book.
//
// The cut itself (node -> partition assignment) is delegated: even-random is
// built in, and min-cut goes through the Cutter interface so an external
// solver (e.g. a METIS binding) can be plugged in. Everything after the cut
// is this package's job: halo expansion, induced subgraph extraction,
// inner/halo flagging, and the optional global-ID reshuffle that gives every
// partition a contiguous ID range.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/partbook"
)

// Method selects how the node -> partition assignment is computed.
type Method int

const (
	// MethodRandom assigns nodes to partitions uniformly at random,
	// reproducibly from the configured seed.
	MethodRandom Method = iota
	// MethodMinCut delegates to the configured Cutter and balances the
	// configured per-node weights. Falls back to MethodRandom with a logged
	// warning when no Cutter is installed.
	MethodMinCut
)

func (m Method) String() string {
	switch m {
	case MethodRandom:
		return "random"
	case MethodMinCut:
		return "min-cut"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Cutter computes a min-cut node assignment. weights holds per-node balancing
// weights, flattened as len(weights) == k*NumNodes for k balancing
// constraints; it may be nil for plain balance by node count.
//
// The returned slice maps every node to a partition in [0, numParts).
// Determinism is entirely up to the implementation.
type Cutter interface {
	Cut(g *graph.Graph, numParts int, weights []int64) ([]int, error)
}

// PartitionError reports a violated partitioning precondition or an invalid
// assignment produced by a Cutter. No partial result accompanies it.
type PartitionError struct {
	Reason string
	cause  error
}

func (e *PartitionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("partition: %s: %v", e.Reason, e.cause)
	}
	return "partition: " + e.Reason
}

func (e *PartitionError) Unwrap() error { return e.cause }

type options struct {
	method    Method
	haloHops  int
	reshuffle bool
	seed      int64
	cutter    Cutter
	weights   []int64
	logger    *slog.Logger
}

// Option configures Partition.
type Option func(*options)

// WithMethod selects the assignment method. Default is MethodRandom.
func WithMethod(m Method) Option {
	return func(o *options) { o.method = m }
}

// WithHaloHops sets how many hops beyond the inner node set each subgraph
// keeps as halo. Default 1.
func WithHaloHops(hops int) Option {
	return func(o *options) { o.haloHops = hops }
}

// WithReshuffle controls the global-ID relabeling that makes every
// partition's inner IDs contiguous. Default true; the range partition book
// requires it.
func WithReshuffle(enabled bool) Option {
	return func(o *options) { o.reshuffle = enabled }
}

// WithSeed sets the seed for MethodRandom. Default 0.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithCutter installs the external min-cut solver used by MethodMinCut.
func WithCutter(c Cutter) Option {
	return func(o *options) { o.cutter = c }
}

// WithBalanceWeights supplies per-node balancing weights for MethodMinCut,
// flattened to k*NumNodes entries for k constraints.
func WithBalanceWeights(w []int64) Option {
	return func(o *options) { o.weights = w }
}

// WithLogger sets the structured logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Result is the outcome of a partitioning run.
type Result struct {
	// Parts holds one subgraph per partition.
	Parts []*Subgraph
	// Book is the partition book: a RangeBook when reshuffling, an
	// ExplicitBook otherwise.
	Book partbook.Book
	// NodePerm maps original node ID -> reshuffled global node ID.
	// Nil when reshuffling is disabled.
	NodePerm []graph.NodeID
	// EdgePerm maps original edge ID -> reshuffled global edge ID.
	// Nil when reshuffling is disabled.
	EdgePerm []graph.EdgeID
}

// Partition splits g into numParts subgraphs with halo and builds the
// partition book. The original graph is not modified.
func Partition(g *graph.Graph, numParts int, opts ...Option) (*Result, error) {
	o := options{
		method:    MethodRandom,
		haloHops:  1,
		reshuffle: true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if g == nil || g.NumNodes() < 1 {
		return nil, &PartitionError{Reason: "graph must have at least one node"}
	}
	if numParts < 1 {
		return nil, &PartitionError{Reason: fmt.Sprintf("numParts must be >= 1, got %d", numParts)}
	}
	if o.haloHops < 0 {
		return nil, &PartitionError{Reason: fmt.Sprintf("haloHops must be >= 0, got %d", o.haloHops)}
	}
	if len(o.weights) > 0 && int64(len(o.weights))%g.NumNodes() != 0 {
		return nil, &PartitionError{Reason: fmt.Sprintf(
			"balance weights length %d is not a multiple of node count %d", len(o.weights), g.NumNodes())}
	}

	assign, err := computeAssignment(g, numParts, &o)
	if err != nil {
		return nil, err
	}

	return assemble(g, numParts, assign, &o)
}

// PartitionWithAssignment skips the cut and uses a caller-supplied
// node -> partition assignment, then performs halo expansion, flagging and
// the optional reshuffle exactly like Partition.
func PartitionWithAssignment(g *graph.Graph, numParts int, assign []int, opts ...Option) (*Result, error) {
	o := options{haloHops: 1, reshuffle: true}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if g == nil || g.NumNodes() < 1 {
		return nil, &PartitionError{Reason: "graph must have at least one node"}
	}
	if err := validateAssignment(g, numParts, assign); err != nil {
		return nil, err
	}
	return assemble(g, numParts, assign, &o)
}

func computeAssignment(g *graph.Graph, numParts int, o *options) ([]int, error) {
	method := o.method
	if method == MethodMinCut && o.cutter == nil {
		o.logger.Warn("no min-cut solver installed, falling back to random partitioning",
			"num_parts", numParts)
		method = MethodRandom
	}

	var (
		assign []int
		err    error
	)
	switch method {
	case MethodRandom:
		rng := rand.New(rand.NewSource(o.seed))
		assign = make([]int, g.NumNodes())
		for i := range assign {
			assign[i] = rng.Intn(numParts)
		}
	case MethodMinCut:
		assign, err = o.cutter.Cut(g, numParts, o.weights)
		if err != nil {
			return nil, &PartitionError{Reason: "min-cut solver failed", cause: err}
		}
	default:
		return nil, &PartitionError{Reason: fmt.Sprintf("unknown method %d", int(o.method))}
	}

	if err := validateAssignment(g, numParts, assign); err != nil {
		return nil, err
	}
	return assign, nil
}

func validateAssignment(g *graph.Graph, numParts int, assign []int) error {
	if numParts < 1 {
		return &PartitionError{Reason: fmt.Sprintf("numParts must be >= 1, got %d", numParts)}
	}
	if int64(len(assign)) != g.NumNodes() {
		return &PartitionError{Reason: fmt.Sprintf(
			"assignment covers %d nodes, graph has %d", len(assign), g.NumNodes())}
	}
	for n, p := range assign {
		if p < 0 || p >= numParts {
			return &PartitionError{Reason: fmt.Sprintf(
				"node %d assigned to partition %d, valid range [0, %d)", n, p, numParts)}
		}
	}
	return nil
}

// assemble runs the post-cut pipeline: reshuffle, halo expansion, induced
// subgraph construction and book building.
func assemble(g *graph.Graph, numParts int, assign []int, o *options) (*Result, error) {
	res := &Result{Parts: make([]*Subgraph, numParts)}

	// Edge ownership follows the destination node, so in-edge neighborhoods
	// of inner nodes stay shard-local.
	edgeOwner := make([]int, g.NumEdges())
	for e := int64(0); e < g.NumEdges(); e++ {
		_, dst := g.Edge(graph.EdgeID(e))
		edgeOwner[e] = assign[dst]
	}

	var (
		nodeStarts, edgeStarts []int64
	)
	if o.reshuffle {
		res.NodePerm, nodeStarts = buildPerm(g.NumNodes(), numParts, func(i int64) int { return assign[i] })
		edgePermRaw, es := buildPerm(g.NumEdges(), numParts, func(i int64) int { return edgeOwner[i] })
		res.EdgePerm = make([]graph.EdgeID, len(edgePermRaw))
		for i, v := range edgePermRaw {
			res.EdgePerm[i] = graph.EdgeID(v)
		}
		edgeStarts = es
	}

	for part := 0; part < numParts; part++ {
		sg, err := extractSubgraph(g, part, assign, edgeOwner, o.haloHops, res.NodePerm, res.EdgePerm)
		if err != nil {
			return nil, err
		}
		res.Parts[part] = sg
	}

	if o.reshuffle {
		book, err := partbook.NewRangeBook(nodeStarts, edgeStarts)
		if err != nil {
			return nil, &PartitionError{Reason: "building range partition book", cause: err}
		}
		res.Book = book
	} else {
		partNodes := make([][]graph.NodeID, numParts)
		partEdges := make([][]graph.EdgeID, numParts)
		for part, sg := range res.Parts {
			partNodes[part] = sg.GlobalNID[:sg.NumInnerNodes]
			partEdges[part] = sg.GlobalEID[:sg.NumInnerEdges]
		}
		book, err := partbook.NewExplicitBook(partNodes, partEdges)
		if err != nil {
			return nil, &PartitionError{Reason: "building explicit partition book", cause: err}
		}
		res.Book = book
	}

	if o.logger.Enabled(context.Background(), slog.LevelDebug) {
		for part, sg := range res.Parts {
			o.logger.Debug("partition assembled",
				"part", part,
				"inner_nodes", sg.NumInnerNodes,
				"halo_nodes", int64(len(sg.GlobalNID))-sg.NumInnerNodes,
				"inner_edges", sg.NumInnerEdges,
			)
		}
	}

	return res, nil
}

// buildPerm produces old-ID -> new-ID relabeling where each partition's IDs
// become one contiguous ascending range, ordered by old ID within a
// partition. Also returns the per-partition range starts (len numParts+1).
func buildPerm(count int64, numParts int, owner func(int64) int) ([]graph.NodeID, []int64) {
	starts := make([]int64, numParts+1)
	for i := int64(0); i < count; i++ {
		starts[owner(i)+1]++
	}
	for p := 1; p <= numParts; p++ {
		starts[p] += starts[p-1]
	}

	perm := make([]graph.NodeID, count)
	next := make([]int64, numParts)
	copy(next, starts[:numParts])
	for i := int64(0); i < count; i++ {
		p := owner(i)
		perm[i] = graph.NodeID(next[p])
		next[p]++
	}
	return perm, starts
}

// haloSet returns the inner node set of part expanded by hops steps along
// both edge directions, as a sorted list of original node IDs plus the
// membership mask.
func haloSet(g *graph.Graph, part int, assign []int, hops int) ([]graph.NodeID, []bool) {
	inSet := make([]bool, g.NumNodes())
	var frontier []graph.NodeID
	for n := int64(0); n < g.NumNodes(); n++ {
		if assign[n] == part {
			inSet[n] = true
			frontier = append(frontier, graph.NodeID(n))
		}
	}

	for hop := 0; hop < hops; hop++ {
		var next []graph.NodeID
		for _, u := range frontier {
			for _, v := range g.Successors(u) {
				if !inSet[v] {
					inSet[v] = true
					next = append(next, v)
				}
			}
			for _, v := range g.Predecessors(u) {
				if !inSet[v] {
					inSet[v] = true
					next = append(next, v)
				}
			}
		}
		frontier = next
	}

	var members []graph.NodeID
	for n := int64(0); n < g.NumNodes(); n++ {
		if inSet[n] {
			members = append(members, graph.NodeID(n))
		}
	}
	return members, inSet
}

// extractSubgraph builds one partition's halo-extended subgraph. perm slices
// are nil when reshuffling is disabled; then global IDs equal original IDs.
func extractSubgraph(g *graph.Graph, part int, assign []int, edgeOwner []int, hops int,
	nodePerm []graph.NodeID, edgePerm []graph.EdgeID) (*Subgraph, error) {

	members, inSet := haloSet(g, part, assign, hops)

	globalNID := func(orig graph.NodeID) graph.NodeID {
		if nodePerm != nil {
			return nodePerm[orig]
		}
		return orig
	}
	globalEID := func(orig graph.EdgeID) graph.EdgeID {
		if edgePerm != nil {
			return edgePerm[orig]
		}
		return orig
	}

	// Local node order: inner nodes first, each group ascending by global ID.
	type nodeEntry struct {
		orig  graph.NodeID
		gid   graph.NodeID
		inner bool
	}
	nodes := make([]nodeEntry, 0, len(members))
	for _, n := range members {
		nodes = append(nodes, nodeEntry{orig: n, gid: globalNID(n), inner: assign[n] == part})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].inner != nodes[j].inner {
			return nodes[i].inner
		}
		return nodes[i].gid < nodes[j].gid
	})

	localOf := make(map[graph.NodeID]graph.NodeID, len(nodes))
	for local, ne := range nodes {
		localOf[ne.orig] = graph.NodeID(local)
	}

	// Induced edges: both endpoints in the halo-extended set. Inner edges
	// (destination owned by this partition) first, ascending by global ID.
	type edgeEntry struct {
		orig  graph.EdgeID
		gid   graph.EdgeID
		inner bool
	}
	var edges []edgeEntry
	for _, ne := range nodes {
		// Iterate in-edges so every induced edge is seen exactly once via
		// its destination.
		srcs, eids := g.InEdges(ne.orig)
		for i, s := range srcs {
			if !inSet[s] {
				continue
			}
			e := eids[i]
			edges = append(edges, edgeEntry{
				orig:  e,
				gid:   globalEID(e),
				inner: edgeOwner[e] == part,
			})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].inner != edges[j].inner {
			return edges[i].inner
		}
		return edges[i].gid < edges[j].gid
	})

	b := graph.NewBuilder(int64(len(nodes)))
	sg := &Subgraph{
		PartID:    part,
		GlobalNID: make([]graph.NodeID, len(nodes)),
		OrigNID:   make([]graph.NodeID, len(nodes)),
		InnerNode: make([]bool, len(nodes)),
		NodePart:  make([]int32, len(nodes)),
		GlobalEID: make([]graph.EdgeID, len(edges)),
		OrigEID:   make([]graph.EdgeID, len(edges)),
		InnerEdge: make([]bool, len(edges)),
	}

	for local, ne := range nodes {
		sg.GlobalNID[local] = ne.gid
		sg.OrigNID[local] = ne.orig
		sg.InnerNode[local] = ne.inner
		sg.NodePart[local] = int32(assign[ne.orig])
		if ne.inner {
			sg.NumInnerNodes++
		}
	}
	for local, ee := range edges {
		src, dst := g.Edge(ee.orig)
		b.AddEdge(localOf[src], localOf[dst])
		sg.GlobalEID[local] = ee.gid
		sg.OrigEID[local] = ee.orig
		sg.InnerEdge[local] = ee.inner
		if ee.inner {
			sg.NumInnerEdges++
		}
	}

	lg, err := b.Build()
	if err != nil {
		return nil, &PartitionError{Reason: fmt.Sprintf("building subgraph for partition %d", part), cause: err}
	}
	sg.G = lg
	return sg, nil
}
