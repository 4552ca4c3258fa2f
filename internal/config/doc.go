// Package config loads, normalizes, and validates anvil configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and applies environment overrides such as ANVIL_KEEP_ALIVE and
// ANVIL_RUNTIME_DIR. Server, client, and CLI all read the same Config so they
// agree on where the server's socket lives.
package config
