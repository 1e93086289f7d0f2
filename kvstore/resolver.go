package kvstore

import (
	"github.com/hupe1980/distgraph/graph"
	"github.com/hupe1980/distgraph/partbook"
)

// BookNodeResolver resolves global node IDs to partID's local rows using the
// partition book. IDs owned elsewhere fail with the book's
// *OutOfPartitionError.
func BookNodeResolver(book partbook.Book, partID int) ResolveFunc {
	return func(ids []int64) ([]int64, error) {
		out := make([]int64, len(ids))
		for i, id := range ids {
			local, err := book.NID2LocalNID(graph.NodeID(id), partID)
			if err != nil {
				return nil, err
			}
			out[i] = local
		}
		return out, nil
	}
}

// BookEdgeResolver is BookNodeResolver for global edge IDs.
func BookEdgeResolver(book partbook.Book, partID int) ResolveFunc {
	return func(ids []int64) ([]int64, error) {
		out := make([]int64, len(ids))
		for i, id := range ids {
			local, err := book.EID2LocalEID(graph.EdgeID(id), partID)
			if err != nil {
				return nil, err
			}
			out[i] = local
		}
		return out, nil
	}
}
