// Package notifications delivers operator alerts via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Dead jobs and
// circuit breaker transitions can be switched off individually.
package notifications
