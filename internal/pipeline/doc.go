// Package pipeline defines what each stage of a submission's processing run
// does and how callers hand submissions to the queue.
//
// The stage table maps a job's kind and stage onto a stage.Handler. Handlers
// read the artifacts earlier stages committed, make at most one capability
// call, and return new artifacts for the workflow manager to commit. Since a
// stage may run more than once when a lease expires, every handler derives
// its output from committed artifacts and content-addressed blob keys only.
//
// Service is the intake surface: SubmitForProcessing, Withdraw, Retry and
// Status. It is shared by the HTTP API and the CLI.
package pipeline
