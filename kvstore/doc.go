// Package kvstore implements the distributed tensor store: per-partition
// shards of named, fixed-shape row tensors (node features, edge features,
// learnable embeddings), addressed by global node or edge IDs.
//
// A Server owns the rows of one partition's inner entities as flat
// zero-initialized byte slices and resolves incoming global IDs to local row
// offsets with resolvers derived from the partition book. A Client splits
// each Pull/Push by owning partition, fans the sub-requests out concurrently
// and reassembles results in the caller's ID order.
package kvstore
