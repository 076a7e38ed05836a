// Package app wires application dependencies for the CLI.
//
// It loads the TOML configuration, builds the zap logger and the metrics
// registry, opens the bbolt store and constructs the identity, prekey,
// session and message services over it.
package app
