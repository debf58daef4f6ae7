// Package scheduler drives batches and races on top of the worker pool.
//
// # Why Scheduler Exists
//
// The executor knows how to run one experiment. Deciding which experiments
// to run, which ones are already on record, and when a race may discard a
// configuration is the job of a driver. Two drivers live here:
//   - Batch: runs every configuration of a generator, once per repetition
//   - Race: runs configurations instance by instance and prunes the
//     statistically inferior ones after every completed iteration
//
// # How It Works
//
// A driver produces jobs into a bounded executor.Queue (capacity equal to the
// thread count), so generation never runs far ahead of execution. The
// workers report back through the executor.Observer interface. The driver
// then waits on the queue with a bounded timeout so that an interrupted
// context is noticed quickly.
//
// Before a job is queued the driver checks the store:
//  1. An experiment with the exact same parameters on this batch is skipped.
//  2. In greedy mode, an equivalent experiment of another batch is copied
//     when it covers the wanted repetition.
//  3. Otherwise the job is queued.
//
// # Race Ordering
//
// Every (repetition, instance) pair is one iteration. Completions are
// recorded per iteration, but pruning for iteration i only happens once every
// racing configuration has a result for i. Completions of later iterations
// are buffered and processed in order as soon as the earlier ones close.
// All race state is guarded by a single mutex per race.
//
// # Interruption
//
// Cancelling the run context kills every queued and running job. The batch is
// saved without a stop date so that it can be resumed; resuming skips every
// experiment already on record.
package scheduler
