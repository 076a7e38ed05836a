// Package prekey generates signed and one-time prekeys and assembles the
// bundle a peer publishes so others can start sessions with it offline.
package prekey
