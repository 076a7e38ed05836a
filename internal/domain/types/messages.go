package types

// MessageType tags a Ciphertext. The set is closed: every switch over it
// handles both kinds and rejects anything else.
type MessageType uint8

const (
	// WhisperMessageType carries a ratchet header and ciphertext only.
	WhisperMessageType MessageType = 1
	// PreKeyBundleMessageType additionally embeds the X3DH handshake header.
	PreKeyBundleMessageType MessageType = 3
)

// String returns a short label for logs and metrics.
func (t MessageType) String() string {
	switch t {
	case WhisperMessageType:
		return "whisper"
	case PreKeyBundleMessageType:
		return "prekey_bundle"
	default:
		return "unknown"
	}
}

// Ciphertext is what Encrypt produces and Decrypt consumes.
type Ciphertext struct {
	Type MessageType
	Body []byte
}
