// Package api is the HTTP intake surface of ventpipe and the wire-format
// types shared with the CLI.
//
// # Routes
//
//	POST /v1/submissions                  submit an upload for processing
//	GET  /v1/submissions/{id}             effective status and annotations
//	POST /v1/submissions/{id}/withdraw    cancel the active run
//	POST /v1/submissions/{id}/retry       start a new run after dead/cancelled
//	GET  /v1/jobs                         list jobs, optionally by stage
//	GET  /v1/jobs/stats                   job counts per stage
//	GET  /v1/jobs/{id}                    job detail with attempts and history
//	GET  /v1/status                       daemon and workflow status
//	GET  /healthz                         liveness
//	GET  /metrics                         Prometheus collectors
//
// Request bodies are validated with go-playground/validator before they reach
// the pipeline. Errors map onto status codes by their marker: validation is
// 400, conflicts are 409, missing records are 404 and everything else is 500.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Stages, kinds and statuses are exposed as
// lowercase strings and timestamps use RFC3339 with milliseconds. Annotations
// are only present once a submission is ready.
package api
