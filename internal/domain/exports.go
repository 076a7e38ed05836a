package domain

import (
	interfaces "sesame/internal/domain/interfaces"
	types "sesame/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Address            = types.Address
	Fingerprint        = types.Fingerprint
	X25519Public       = types.X25519Public
	X25519Private      = types.X25519Private
	Ed25519Public      = types.Ed25519Public
	Ed25519Private     = types.Ed25519Private
	KeyPair            = types.KeyPair
	Identity           = types.Identity
	IdentityKey        = types.IdentityKey
	PreKeyRecord       = types.PreKeyRecord
	SignedPreKeyRecord = types.SignedPreKeyRecord
	PreKeyPublic       = types.PreKeyPublic
	SignedPreKeyPublic = types.SignedPreKeyPublic
	PreKeyBundle       = types.PreKeyBundle
	MessageType        = types.MessageType
	Ciphertext         = types.Ciphertext
	ChainState         = types.ChainState
	SendingChain       = types.SendingChain
	ReceivingChain     = types.ReceivingChain
	SkippedKey         = types.SkippedKey
	RetiredChain       = types.RetiredChain
	PendingPreKey      = types.PendingPreKey
	SessionState       = types.SessionState
	SessionRecord      = types.SessionRecord
)

// IdentityKeySize is the encoded size of an IdentityKey.
const IdentityKeySize = types.IdentityKeySize

// IdentityKeyFromBytes decodes the 64-byte form produced by IdentityKey.Bytes.
var IdentityKeyFromBytes = types.IdentityKeyFromBytes

// Message type tags.
const (
	WhisperMessageType      = types.WhisperMessageType
	PreKeyBundleMessageType = types.PreKeyBundleMessageType
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService   = interfaces.IdentityService
	PreKeyService     = interfaces.PreKeyService
	SessionBuilder    = interfaces.SessionBuilder
	SessionCipher     = interfaces.SessionCipher
	IdentityStore     = interfaces.IdentityStore
	TrustStore        = interfaces.TrustStore
	PreKeyStore       = interfaces.PreKeyStore
	SignedPreKeyStore = interfaces.SignedPreKeyStore
	SessionStore      = interfaces.SessionStore
	ProtocolStore     = interfaces.ProtocolStore
)
