// Package store provides the persistence behind the protocol interfaces.
//
// Two implementations of domain.ProtocolStore are included:
//   - MemoryStore keeps everything in maps guarded by a RWMutex.
//   - BoltStore keeps everything in a single bbolt file. Prekeys and signed
//     prekeys are CBOR encoded, session records are stored as the opaque
//     bytes the protocol hands over, and the local identity is sealed with
//     a passphrase (scrypt + ChaCha20-Poly1305).
//
// Both enforce trust on first use in SaveIdentity and are safe for
// concurrent use.
//
// ReadBundle and WriteBundle move prekey bundles in and out as JSON files,
// written atomically via a temp file and rename.
package store
