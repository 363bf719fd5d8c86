// Package events connects keyword batches to Kafka.
//
// # Components
//
//   - Publisher: a batch observer that publishes lifecycle events
//   - CommandListener: consumes batch commands (cancel) from a topic
//
// # Event Types
//
//   - keyword_batch.submitted: a batch was accepted and its jobs queued
//   - keyword_batch.job_started: a job was dequeued by a worker
//   - keyword_batch.job_finished: a job reached completed or error
//   - keyword_batch.finished: every worker of a batch has stopped
//
// Messages are keyed by batch ID so that one batch's events stay ordered
// within a partition.
package events
