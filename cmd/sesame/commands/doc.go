// Package commands defines the sesame CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the local identity
//   - fingerprint    Print the local or a peer's identity fingerprint
//   - prekeys        Generate prekeys and export the public bundle
//   - session        Start a session from a peer bundle, or inspect one
//   - encrypt        Encrypt a message for a peer into a ciphertext file
//   - decrypt        Decrypt a ciphertext file from a peer
//   - trust          Accept a peer's new identity key
//
// Peers are named "name.device", for example "alice.1". Bundles and
// ciphertexts are exchanged out of band as JSON files.
//
// # Implementation
//
// The root command loads the TOML config and opens the store before any
// subcommand runs, so handlers share one app context. The store is closed
// when Execute returns.
package commands
