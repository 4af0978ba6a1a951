// Package config loads, normalizes, and validates ventpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and fills credentials from the environment
// (optionally seeded from a .env file). The Config type centralizes every knob
// the daemon and CLI need so that pipeline timing, capability backends, and
// storage locations are discovered in one pass.
package config
