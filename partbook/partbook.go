// Package partbook implements the partition book: the authoritative mapping
// between global node/edge IDs and their (partition, local ID) placement.
//
// A book is created once at partition time and is read-only afterwards, so a
// single instance is safely shared by every server and client goroutine.
//
// Two policies exist:
//
//   - RangeBook stores one boundary per partition (O(P) memory, O(log P)
//     lookup). It requires the reshuffling step of the partitioner, which
//     makes each partition own one contiguous global-ID range.
//   - ExplicitBook stores the full per-partition ID arrays (O(N) memory,
//     O(1) lookup) and works with any assignment.
package partbook

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/distgraph/graph"
)

// Book maps global node/edge IDs to partitions and local IDs, and back.
// Implementations are immutable and safe for concurrent use.
type Book interface {
	// NumPartitions returns the number of partitions.
	NumPartitions() int
	// NumNodes returns the total node count of the original graph.
	NumNodes() int64
	// NumEdges returns the total edge count of the original graph.
	NumEdges() int64

	// NID2PartID returns the partition owning global node gid.
	NID2PartID(gid graph.NodeID) (int, error)
	// EID2PartID returns the partition owning global edge gid.
	EID2PartID(gid graph.EdgeID) (int, error)

	// NID2LocalNID translates a global node ID into partID's local ID space.
	// Fails with *OutOfPartitionError if partID does not own gid.
	NID2LocalNID(gid graph.NodeID, partID int) (int64, error)
	// EID2LocalEID translates a global edge ID into partID's local ID space.
	EID2LocalEID(gid graph.EdgeID, partID int) (int64, error)

	// Local2GlobalNID is the vectorized inverse of NID2LocalNID.
	Local2GlobalNID(partID int, locals []int64) ([]graph.NodeID, error)
	// Local2GlobalEID is the vectorized inverse of EID2LocalEID.
	Local2GlobalEID(partID int, locals []int64) ([]graph.EdgeID, error)

	// PartID2NIDs returns the set of global node IDs owned by partID
	// (inner nodes only). The bitmap is shared and must not be mutated.
	PartID2NIDs(partID int) (*roaring64.Bitmap, error)
	// PartID2EIDs returns the set of global edge IDs owned by partID.
	PartID2EIDs(partID int) (*roaring64.Bitmap, error)
}

var (
	// ErrEmptyBook is returned when constructing a book with no partitions.
	ErrEmptyBook = errors.New("partbook: at least one partition required")
)

// OutOfPartitionError reports a global ID that does not belong to the
// partition it was resolved against. This is a caller bug, not a transient
// condition, and is never retried.
type OutOfPartitionError struct {
	Kind     string // "node" or "edge"
	GlobalID int64
	PartID   int
}

func (e *OutOfPartitionError) Error() string {
	return fmt.Sprintf("partbook: global %s %d is not owned by partition %d", e.Kind, e.GlobalID, e.PartID)
}

// InvalidPartitionError reports a partition ID outside [0, NumPartitions).
type InvalidPartitionError struct {
	PartID        int
	NumPartitions int
}

func (e *InvalidPartitionError) Error() string {
	return fmt.Sprintf("partbook: partition %d out of range [0, %d)", e.PartID, e.NumPartitions)
}

// UnownedIDError reports a global ID not covered by any partition.
type UnownedIDError struct {
	Kind     string
	GlobalID int64
}

func (e *UnownedIDError) Error() string {
	return fmt.Sprintf("partbook: global %s %d is not owned by any partition", e.Kind, e.GlobalID)
}

// ---------------------------------------------------------------------------
// RangeBook
// ---------------------------------------------------------------------------

// RangeBook resolves ownership from sorted partition boundaries.
type RangeBook struct {
	// nodeStarts[p] is the first global node ID owned by partition p;
	// nodeStarts[P] is the total node count. Same layout for edges.
	nodeStarts []int64
	edgeStarts []int64
}

// NewRangeBook builds a range-policy book from boundary arrays of length
// numPartitions+1. Boundaries must start at 0, be non-decreasing, and cover
// every global ID exactly once.
func NewRangeBook(nodeStarts, edgeStarts []int64) (*RangeBook, error) {
	if err := validateStarts("node", nodeStarts); err != nil {
		return nil, err
	}
	if err := validateStarts("edge", edgeStarts); err != nil {
		return nil, err
	}
	if len(nodeStarts) != len(edgeStarts) {
		return nil, fmt.Errorf("partbook: node and edge boundary counts differ (%d vs %d)",
			len(nodeStarts)-1, len(edgeStarts)-1)
	}
	return &RangeBook{nodeStarts: nodeStarts, edgeStarts: edgeStarts}, nil
}

func validateStarts(kind string, starts []int64) error {
	if len(starts) < 2 {
		return ErrEmptyBook
	}
	if starts[0] != 0 {
		return fmt.Errorf("partbook: %s boundaries must start at 0, got %d", kind, starts[0])
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] < starts[i-1] {
			return fmt.Errorf("partbook: %s boundaries not sorted at index %d", kind, i)
		}
	}
	return nil
}

// NodeStarts returns the node boundary array (shared, read-only).
func (b *RangeBook) NodeStarts() []int64 { return b.nodeStarts }

// EdgeStarts returns the edge boundary array (shared, read-only).
func (b *RangeBook) EdgeStarts() []int64 { return b.edgeStarts }

// NumPartitions implements Book.
func (b *RangeBook) NumPartitions() int { return len(b.nodeStarts) - 1 }

// NumNodes implements Book.
func (b *RangeBook) NumNodes() int64 { return b.nodeStarts[len(b.nodeStarts)-1] }

// NumEdges implements Book.
func (b *RangeBook) NumEdges() int64 { return b.edgeStarts[len(b.edgeStarts)-1] }

func rangeLookup(starts []int64, id int64) (int, bool) {
	if id < 0 || id >= starts[len(starts)-1] {
		return 0, false
	}
	// First boundary strictly greater than id, minus one.
	p := sort.Search(len(starts), func(i int) bool { return starts[i] > id }) - 1
	return p, true
}

// NID2PartID implements Book.
func (b *RangeBook) NID2PartID(gid graph.NodeID) (int, error) {
	p, ok := rangeLookup(b.nodeStarts, int64(gid))
	if !ok {
		return 0, &UnownedIDError{Kind: "node", GlobalID: int64(gid)}
	}
	return p, nil
}

// EID2PartID implements Book.
func (b *RangeBook) EID2PartID(gid graph.EdgeID) (int, error) {
	p, ok := rangeLookup(b.edgeStarts, int64(gid))
	if !ok {
		return 0, &UnownedIDError{Kind: "edge", GlobalID: int64(gid)}
	}
	return p, nil
}

func (b *RangeBook) checkPart(partID int) error {
	if partID < 0 || partID >= b.NumPartitions() {
		return &InvalidPartitionError{PartID: partID, NumPartitions: b.NumPartitions()}
	}
	return nil
}

// NID2LocalNID implements Book.
func (b *RangeBook) NID2LocalNID(gid graph.NodeID, partID int) (int64, error) {
	if err := b.checkPart(partID); err != nil {
		return 0, err
	}
	id := int64(gid)
	if id < b.nodeStarts[partID] || id >= b.nodeStarts[partID+1] {
		return 0, &OutOfPartitionError{Kind: "node", GlobalID: id, PartID: partID}
	}
	return id - b.nodeStarts[partID], nil
}

// EID2LocalEID implements Book.
func (b *RangeBook) EID2LocalEID(gid graph.EdgeID, partID int) (int64, error) {
	if err := b.checkPart(partID); err != nil {
		return 0, err
	}
	id := int64(gid)
	if id < b.edgeStarts[partID] || id >= b.edgeStarts[partID+1] {
		return 0, &OutOfPartitionError{Kind: "edge", GlobalID: id, PartID: partID}
	}
	return id - b.edgeStarts[partID], nil
}

// Local2GlobalNID implements Book.
func (b *RangeBook) Local2GlobalNID(partID int, locals []int64) ([]graph.NodeID, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	start := b.nodeStarts[partID]
	count := b.nodeStarts[partID+1] - start
	out := make([]graph.NodeID, len(locals))
	for i, l := range locals {
		if l < 0 || l >= count {
			return nil, &OutOfPartitionError{Kind: "node", GlobalID: l, PartID: partID}
		}
		out[i] = graph.NodeID(start + l)
	}
	return out, nil
}

// Local2GlobalEID implements Book.
func (b *RangeBook) Local2GlobalEID(partID int, locals []int64) ([]graph.EdgeID, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	start := b.edgeStarts[partID]
	count := b.edgeStarts[partID+1] - start
	out := make([]graph.EdgeID, len(locals))
	for i, l := range locals {
		if l < 0 || l >= count {
			return nil, &OutOfPartitionError{Kind: "edge", GlobalID: l, PartID: partID}
		}
		out[i] = graph.EdgeID(start + l)
	}
	return out, nil
}

// PartID2NIDs implements Book.
func (b *RangeBook) PartID2NIDs(partID int) (*roaring64.Bitmap, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	bm := roaring64.New()
	bm.AddRange(uint64(b.nodeStarts[partID]), uint64(b.nodeStarts[partID+1]))
	return bm, nil
}

// PartID2EIDs implements Book.
func (b *RangeBook) PartID2EIDs(partID int) (*roaring64.Bitmap, error) {
	if err := b.checkPart(partID); err != nil {
		return nil, err
	}
	bm := roaring64.New()
	bm.AddRange(uint64(b.edgeStarts[partID]), uint64(b.edgeStarts[partID+1]))
	return bm, nil
}

var _ Book = (*RangeBook)(nil)
