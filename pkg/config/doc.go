/*
Package config loads, validates and serves the in-memory security
configuration snapshot for one node.

The package ties together four pieces: the Loader parses raw config
documents from the store into typed structures, the Holder swaps the
node-local immutable Snapshot atomically, the Gate tracks the one-way
uninitialized-to-initialized transition, and the Registry orchestrates
reloads of arbitrary config-type subsets.

# Architecture

	store documents -> Loader.Load -> partial parse result
	                                       |
	                   Holder.Install <----'  (merge into copy, atomic swap)
	                          |
	                   Gate.TryInitialize     (first successful install only)

# Invariants

  - A snapshot is total: every config type present, or the install fails and
    the prior snapshot is retained
  - Snapshot swap is an atomic pointer replace; readers never observe a
    partially updated snapshot and never block on a swap
  - The gate flips exactly once per process lifetime, via compare-and-set
  - Parsing failure on any single type aborts the whole load

# Usage

	reg := config.NewRegistry(store, broker)
	if err := reg.Reload(ctx, types.AllConfigTypes()); err != nil { ... }
	snap := reg.Current() // never nil after a successful reload
*/
package config
