// Package batch runs keyword research batches.
//
// A batch is a list of keywords researched under one set of shared
// parameters. The Scheduler runs a batch's jobs on a bounded pool of
// workers; each worker hands one job at a time to the Executor, which
// performs the create, run, and patch calls against the research API.
//
// Cancellation is cooperative. Cancel stops workers from dequeuing further
// jobs, but a job already handed to the Executor always runs to its
// terminal state, because the remote calls cannot be withdrawn once sent.
//
// Snapshots are computed from the jobs on every call by Aggregate; no
// counter is maintained separately from job state.
package batch
