// Package model holds the persistent records of the application: batches
// (including the extra state carried by races) and the experiments they run.
//
// # Core Concepts
//
//   - Batch: a named sweep of an executable over a parameter expression. The
//     expression is kept in its v1 document form so a batch can be resumed
//     by a later process.
//
//   - Race: a Batch with Kind KindRace. Configurations are raced against a
//     shuffled sequence of instances and pruned by rank statistics. The race
//     persists its per-configuration ranking state after every iteration.
//
//   - Experiment: one execution of the executable with one parameter
//     assignment. Experiments copied from another batch in greedy mode are
//     flagged with Copy.
//
// Records are plain structs with JSON tags. Every store backend serializes
// them the same way.
package model
