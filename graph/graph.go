// Package graph provides the immutable in-memory directed graph that the
// partitioner consumes and that partition subgraphs are built from.
//
// The structure is a dual CSR: adjacency is stored once in out-edge order and
// once in in-edge order, so halo expansion can walk both directions without
// transposing. Edge IDs are assigned in insertion order and are stable.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

// NodeID identifies a node. In the unpartitioned graph it is a global ID;
// within a partition subgraph it is a local ID.
type NodeID int64

// EdgeID identifies an edge, with the same global/local duality as NodeID.
type EdgeID int64

var (
	// ErrNoNodes is returned when constructing a graph without nodes.
	ErrNoNodes = errors.New("graph: graph must have at least one node")
)

// ErrNodeOutOfRange indicates a node ID outside [0, NumNodes).
type ErrNodeOutOfRange struct {
	ID       NodeID
	NumNodes int64
}

func (e *ErrNodeOutOfRange) Error() string {
	return fmt.Sprintf("graph: node %d out of range [0, %d)", e.ID, e.NumNodes)
}

// Graph is an immutable directed multigraph in dual CSR form.
// Safe for concurrent readers.
type Graph struct {
	numNodes int64

	src []NodeID // edge id -> source
	dst []NodeID // edge id -> destination

	outPtr []int64
	outDst []NodeID
	outEID []EdgeID

	inPtr []int64
	inSrc []NodeID
	inEID []EdgeID
}

// Builder accumulates edges before freezing them into a Graph.
type Builder struct {
	numNodes int64
	src      []NodeID
	dst      []NodeID
}

// NewBuilder creates a builder for a graph with numNodes nodes.
func NewBuilder(numNodes int64) *Builder {
	return &Builder{numNodes: numNodes}
}

// AddEdge appends a directed edge and returns its edge ID.
// Endpoints are validated at Build time.
func (b *Builder) AddEdge(src, dst NodeID) EdgeID {
	b.src = append(b.src, src)
	b.dst = append(b.dst, dst)
	return EdgeID(len(b.src) - 1)
}

// Build freezes the accumulated edges into an immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.numNodes < 1 {
		return nil, ErrNoNodes
	}
	for i := range b.src {
		if b.src[i] < 0 || b.src[i] >= NodeID(b.numNodes) {
			return nil, &ErrNodeOutOfRange{ID: b.src[i], NumNodes: b.numNodes}
		}
		if b.dst[i] < 0 || b.dst[i] >= NodeID(b.numNodes) {
			return nil, &ErrNodeOutOfRange{ID: b.dst[i], NumNodes: b.numNodes}
		}
	}

	g := &Graph{
		numNodes: b.numNodes,
		src:      b.src,
		dst:      b.dst,
	}
	g.outPtr, g.outDst, g.outEID = buildCSR(b.numNodes, b.src, b.dst)
	g.inPtr, g.inSrc, g.inEID = buildCSR(b.numNodes, b.dst, b.src)
	return g, nil
}

// buildCSR groups edges by the "from" endpoint using a counting sort, which
// keeps per-node neighbor order identical to insertion order.
func buildCSR(numNodes int64, from, to []NodeID) (ptr []int64, adj []NodeID, eids []EdgeID) {
	ptr = make([]int64, numNodes+1)
	for _, u := range from {
		ptr[u+1]++
	}
	for i := int64(1); i <= numNodes; i++ {
		ptr[i] += ptr[i-1]
	}

	adj = make([]NodeID, len(from))
	eids = make([]EdgeID, len(from))
	next := make([]int64, numNodes)
	copy(next, ptr[:numNodes])
	for e := range from {
		u := from[e]
		pos := next[u]
		adj[pos] = to[e]
		eids[pos] = EdgeID(e)
		next[u]++
	}
	return ptr, adj, eids
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int64 { return g.numNodes }

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int64 { return int64(len(g.src)) }

// Edge returns the endpoints of edge e.
func (g *Graph) Edge(e EdgeID) (src, dst NodeID) {
	return g.src[e], g.dst[e]
}

// OutEdges returns the destinations and edge IDs of u's out-edges.
// The returned slices alias internal storage and must not be mutated.
func (g *Graph) OutEdges(u NodeID) ([]NodeID, []EdgeID) {
	lo, hi := g.outPtr[u], g.outPtr[u+1]
	return g.outDst[lo:hi], g.outEID[lo:hi]
}

// InEdges returns the sources and edge IDs of v's in-edges.
// The returned slices alias internal storage and must not be mutated.
func (g *Graph) InEdges(v NodeID) ([]NodeID, []EdgeID) {
	lo, hi := g.inPtr[v], g.inPtr[v+1]
	return g.inSrc[lo:hi], g.inEID[lo:hi]
}

// Successors returns the out-neighbors of u.
func (g *Graph) Successors(u NodeID) []NodeID {
	dst, _ := g.OutEdges(u)
	return dst
}

// Predecessors returns the in-neighbors of v.
func (g *Graph) Predecessors(v NodeID) []NodeID {
	src, _ := g.InEdges(v)
	return src
}

// OutDegree returns the number of out-edges of u.
func (g *Graph) OutDegree(u NodeID) int64 { return g.outPtr[u+1] - g.outPtr[u] }

// InDegree returns the number of in-edges of v.
func (g *Graph) InDegree(v NodeID) int64 { return g.inPtr[v+1] - g.inPtr[v] }

// Degree returns the total degree (in + out) of node n.
func (g *Graph) Degree(n NodeID) int64 { return g.OutDegree(n) + g.InDegree(n) }

// Edges returns copies of the source and destination arrays in edge-ID order.
func (g *Graph) Edges() (src, dst []NodeID) {
	src = make([]NodeID, len(g.src))
	dst = make([]NodeID, len(g.dst))
	copy(src, g.src)
	copy(dst, g.dst)
	return src, dst
}

// SortedPredecessors returns the in-neighbors of v in ascending order.
// Used by tests comparing neighborhoods across relabelings.
func (g *Graph) SortedPredecessors(v NodeID) []NodeID {
	src := g.Predecessors(v)
	out := make([]NodeID, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
