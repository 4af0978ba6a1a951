// Package workflow runs the worker pool that moves jobs through the
// pipeline stages.
//
// Each worker leases one job at a time from the queue, keeps the lease alive
// with heartbeats while the stage handler runs, and commits the stage's
// artifacts before the lease is released. Failures are classified: transient
// errors are rescheduled with exponential backoff until the attempt limit is
// reached, permanent errors send the job straight to dead. Dead jobs are
// reported to the publication sink and the notifier exactly once.
//
// A separate loop reclaims leases whose holder stopped heartbeating, so a
// crashed worker never leaves a job stuck, and refreshes queue depth gauges.
package workflow
