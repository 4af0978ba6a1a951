// Package submissions records the user-visible state of each submission and
// publishes pipeline results.
//
// Store is the pipeline's own SQLite registry: it holds kind, owner, parent,
// status, and the annotations, and it doubles as the local publication sink.
// PostgresSink writes the same results into the product database's posts and
// comments tables. Tee combines the two so a deployment can publish to both.
//
// Annotations become visible only once a submission is ready; Submission.View
// enforces that for every outward-facing read. The pipeline is the only
// writer and never deletes a submission.
package submissions
