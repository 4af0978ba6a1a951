// Package queue persists pipeline job records in SQLite and implements the
// lease and commit protocol that drives them.
//
// The Store manages database connections, schema initialization, stats queries,
// lease acquisition, heartbeat extension, expired-lease recovery, and the
// forward-only stage transitions of the pipeline. A job is mutated only by the
// worker holding its lease token; every write that advances or fails a job
// verifies the token and its expiry inside the same transaction.
//
// Terminal jobs (done, dead, cancelled) are kept for audit and are never leased
// again. Schema changes bump the version in schema.go; operators clear the
// database to adopt the new schema.
package queue
