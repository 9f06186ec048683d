// Package testutil provides testing utilities for lfalloc.
//
// This package is intended for use in tests, benchmarks and the stress tool.
// It provides a seeded thread-safe RNG and off-heap storage for intrusive
// nodes.
//
// # Random Sizes
//
//	rng := testutil.NewRNG(seed)
//	n := rng.LogUniform(16, 4096) // small sizes dominate, like real workloads
//
// # Off-heap Nodes
//
//	nodes := testutil.OffHeap[node](t, 128) // unmapped on test cleanup
package testutil
