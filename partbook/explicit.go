package partbook

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/distgraph/graph"
)

type placement struct {
	part  int32
	local int64
}

// ExplicitBook resolves ownership from the full per-partition ID arrays.
// Lookup is O(1) at O(N) memory; it does not require contiguous ownership.
type ExplicitBook struct {
	partNodes [][]graph.NodeID
	partEdges [][]graph.EdgeID

	nodes map[graph.NodeID]placement
	edges map[graph.EdgeID]placement

	nodeSets []*roaring64.Bitmap
	edgeSets []*roaring64.Bitmap

	numNodes int64
	numEdges int64
}

// NewExplicitBook builds an explicit-policy book from per-partition arrays of
// owned global IDs. The k-th entry of a partition's array becomes local ID k.
// Every global ID must be owned by exactly one partition.
func NewExplicitBook(partNodes [][]graph.NodeID, partEdges [][]graph.EdgeID) (*ExplicitBook, error) {
	if len(partNodes) == 0 || len(partNodes) != len(partEdges) {
		return nil, ErrEmptyBook
	}

	b := &ExplicitBook{
		partNodes: partNodes,
		partEdges: partEdges,
		nodes:     make(map[graph.NodeID]placement),
		edges:     make(map[graph.EdgeID]placement),
		nodeSets:  make([]*roaring64.Bitmap, len(partNodes)),
		edgeSets:  make([]*roaring64.Bitmap, len(partEdges)),
	}

	for p, nids := range partNodes {
		set := roaring64.New()
		for local, gid := range nids {
			if _, dup := b.nodes[gid]; dup {
				return nil, fmt.Errorf("partbook: global node %d owned by more than one partition", gid)
			}
			b.nodes[gid] = placement{part: int32(p), local: int64(local)}
			set.Add(uint64(gid))
		}
		b.nodeSets[p] = set
		b.numNodes += int64(len(nids))
	}
	for p, eids := range partEdges {
		set := roaring64.New()
		for local, gid := range eids {
			if _, dup := b.edges[gid]; dup {
				return nil, fmt.Errorf("partbook: global edge %d owned by more than one partition", gid)
			}
			b.edges[gid] = placement{part: int32(p), local: int64(local)}
			set.Add(uint64(gid))
		}
		b.edgeSets[p] = set
		b.numEdges += int64(len(eids))
	}

	return b, nil
}

// NumPartitions implements Book.
func (b *ExplicitBook) NumPartitions() int { return len(b.partNodes) }

// NumNodes implements Book.
func (b *ExplicitBook) NumNodes() int64 { return b.numNodes }

// NumEdges implements Book.
func (b *ExplicitBook) NumEdges() int64 { return b.numEdges }

// PartNodes returns the owned global node IDs of partID in local-ID order
// (shared, read-only).
func (b *ExplicitBook) PartNodes(partID int) []graph.NodeID { return b.partNodes[partID] }

// PartEdges returns the owned global edge IDs of partID in local-ID order
// (shared, read-only).
func (b *ExplicitBook) PartEdges(partID int) []graph.EdgeID { return b.partEdges[partID] }

// NID2PartID implements Book.
func (b *ExplicitBook) NID2PartID(gid graph.NodeID) (int, error) {
	pl, ok := b.nodes[gid]
	if !ok {
		return 0, &UnownedIDError{Kind: "node", GlobalID: int64(gid)}
	}
	return int(pl.part), nil
}

// EID2PartID implements Book.
func (b *ExplicitBook) EID2PartID(gid graph.EdgeID) (int, error) {
	pl, ok := b.edges[gid]
	if !ok {
		return 0, &UnownedIDError{Kind: "edge", GlobalID: int64(gid)}
	}
	return int(pl.part), nil
}

func (b *ExplicitBook) checkPart(partID int) error {
	if partID < 0 || partID >= b.NumPartitions() {
		return &InvalidPartitionError{PartID: partID, NumPartitions: b.NumPartitions()}
	}
	return nil
}

// NID2LocalNID implements Book.
func (b *ExplicitBook) NID2LocalNID(gid graph.NodeID, partID int) (int64, error) {
	if err := b.checkPart(partID); err != nil {
		return 0, err
	}
	pl, ok := b.nodes[gid]
	if !ok || int(pl.part) != partID {
		return 0, &OutOfPartitionError{Kind: "node", GlobalID: int64(gid), PartID: partID}
	}
	return pl.local, nil
}

// EID2LocalEID implements Book.
func (b *ExplicitBook) EID2LocalEID(gid graph.EdgeID, partID int) (int64, error) {
	if err := b.checkPart(partID); err != nil {
		return 0, err
	}
	pl, ok := b.edges[gid]
	if !ok || int(pl.part) != partID {
		return 0, &OutOfPartitionError{Kind: "edge", GlobalID: int64(gid), PartID: partID}
	}
	return pl.local, nil
}

// Local2GlobalNID implements Book.
func (b *ExplicitBook) Local2GlobalNID(partID int, locals []int64) ([]graph.NodeID, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	owned := b.partNodes[partID]
	out := make([]graph.NodeID, len(locals))
	for i, l := range locals {
		if l < 0 || l >= int64(len(owned)) {
			return nil, &OutOfPartitionError{Kind: "node", GlobalID: l, PartID: partID}
		}
		out[i] = owned[l]
	}
	return out, nil
}

// Local2GlobalEID implements Book.
func (b *ExplicitBook) Local2GlobalEID(partID int, locals []int64) ([]graph.EdgeID, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	owned := b.partEdges[partID]
	out := make([]graph.EdgeID, len(locals))
	for i, l := range locals {
		if l < 0 || l >= int64(len(owned)) {
			return nil, &OutOfPartitionError{Kind: "edge", GlobalID: l, PartID: partID}
		}
		out[i] = owned[l]
	}
	return out, nil
}

// PartID2NIDs implements Book.
func (b *ExplicitBook) PartID2NIDs(partID int) (*roaring64.Bitmap, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	return b.nodeSets[partID], nil
}

// PartID2EIDs implements Book.
func (b *ExplicitBook) PartID2EIDs(partID int) (*roaring64.Bitmap, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	return b.edgeSets[partID], nil
}

var _ Book = (*ExplicitBook)(nil)
