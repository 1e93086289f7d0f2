// Package testutil provides testing utilities for distgraph.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random graphs and tensors, and for
// wiring up loopback clusters.
//
// # Random Graph Generation
//
//	rng := testutil.NewRNG(seed)
//	g := testutil.RandomGraph(rng, 1000, 5000)
//
// # Random Tensors
//
//	rows := rng.UniformRows(1000, 16) // 1000 rows of 16 float32s
//
// # Loopback Clusters
//
//	port := testutil.FreePort(t)
package testutil
