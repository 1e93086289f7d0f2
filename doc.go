// Package distgraph serves one large graph from many machines.
//
// A graph is cut once into partitions (package partition), stored as
// artifacts (package blobstore), and served by one GraphServer per
// partition. Training processes open a DistGraph, which looks like a single
// graph: structure queries and feature tensors are transparently routed to
// the owning servers using the partition book (package partbook) over the
// framed RPC transport (package rpc).
//
// Typical server process:
//
//	nb, _ := rpc.LoadIPConfig("ip_config.txt")
//	srv, _ := distgraph.NewGraphServer(rank, nb, store, "papers100m")
//	srv.Start(ctx) // blocks until client rank 0 shuts the cluster down
//
// Typical client process:
//
//	g, _ := distgraph.Connect(ctx, nb, book)
//	defer g.Close()
//
//	feat := g.NodeData("feat")
//	rows, _ := feat.Pull(ctx, nodeIDs)
//
// Feature rows live in the distributed tensor store (package kvstore); the
// DistGraph handles add global-ID routing and caching on top.
package distgraph
