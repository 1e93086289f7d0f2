package partition

import (
	"github.com/hupe1980/distgraph/graph"
)

// Subgraph is one partition's halo-extended piece of the original graph.
//
// Local IDs are dense and ordered: inner nodes occupy [0, NumInnerNodes) and
// inner edges occupy [0, NumInnerEdges), both ascending by global ID. That
// layout is what lets a range partition book and a KV shard address rows by
// plain offset arithmetic.
type Subgraph struct {
	// G is the local graph over local IDs.
	G *graph.Graph
	// PartID is the partition this subgraph belongs to.
	PartID int

	// GlobalNID maps local node ID -> global node ID (post-reshuffle).
	GlobalNID []graph.NodeID
	// OrigNID maps local node ID -> the node's ID in the input graph before
	// reshuffling. Equals GlobalNID when reshuffling was disabled.
	OrigNID []graph.NodeID
	// InnerNode marks nodes owned by this partition; false means halo copy.
	InnerNode []bool
	// NodePart holds the owning partition of each local node.
	NodePart []int32

	// GlobalEID maps local edge ID -> global edge ID (post-reshuffle).
	GlobalEID []graph.EdgeID
	// OrigEID maps local edge ID -> input-graph edge ID before reshuffling.
	OrigEID []graph.EdgeID
	// InnerEdge marks edges owned by this partition.
	InnerEdge []bool

	// NumInnerNodes is the count of inner nodes; they are local IDs
	// [0, NumInnerNodes).
	NumInnerNodes int64
	// NumInnerEdges is the count of inner edges; they are local IDs
	// [0, NumInnerEdges).
	NumInnerEdges int64
}

// LocalNID returns the local ID of a global node ID, or false if the node is
// not present in this subgraph (neither inner nor halo).
func (sg *Subgraph) LocalNID(gid graph.NodeID) (graph.NodeID, bool) {
	// Inner and halo groups are each sorted by global ID.
	if l, ok := searchIDs(sg.GlobalNID[:sg.NumInnerNodes], gid); ok {
		return graph.NodeID(l), true
	}
	if l, ok := searchIDs(sg.GlobalNID[sg.NumInnerNodes:], gid); ok {
		return graph.NodeID(int64(l) + sg.NumInnerNodes), true
	}
	return 0, false
}

// LocalEID returns the local ID of a global edge ID, or false if absent.
func (sg *Subgraph) LocalEID(gid graph.EdgeID) (graph.EdgeID, bool) {
	if l, ok := searchEdgeIDs(sg.GlobalEID[:sg.NumInnerEdges], gid); ok {
		return graph.EdgeID(l), true
	}
	if l, ok := searchEdgeIDs(sg.GlobalEID[sg.NumInnerEdges:], gid); ok {
		return graph.EdgeID(int64(l) + sg.NumInnerEdges), true
	}
	return 0, false
}

func searchIDs(ids []graph.NodeID, want graph.NodeID) (int, bool) {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < want {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ids) && ids[lo] == want {
		return lo, true
	}
	return 0, false
}

func searchEdgeIDs(ids []graph.EdgeID, want graph.EdgeID) (int, bool) {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < want {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(ids) && ids[lo] == want {
		return lo, true
	}
	return 0, false
}
