// Package preflight provides readiness checks for the external services,
// binaries and filesystem paths that ventpipe depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure so a doomed
//     configuration is visible before the first job dies.
//   - The CLI "ventpipe status" command renders the same results alongside
//     daemon and queue state.
//
// Each check is gated by the selected backend: a check for a backend that is
// not configured is skipped.
package preflight
