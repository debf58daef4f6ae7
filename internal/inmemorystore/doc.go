// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the store.Store interface.
//
// # Purpose
//
// Dry runs and tests need a store that leaves nothing behind. Records are
// kept in two sync.Maps keyed by ID, one for batches and one for
// experiments.
//
// # Characteristics
//
//   - **Ephemeral:** Everything is lost when the process exits
//   - **Thread-Safe:** Workers save experiments concurrently with the driver
//   - **Store-Faithful:** Records are copied through their JSON encoding on
//     save and load, so callers see the same value types a persistent
//     backend would return (numbers come back as float64)
//
// # When to Use
//
// Use `--store memory` for trying out a parameter expression against a real
// executable without polluting the results database. Use badgerstore or
// pgstore for anything that must be resumed.
package inmemorystore
