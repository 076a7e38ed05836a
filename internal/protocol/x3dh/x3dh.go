package x3dh

import (
	"errors"

	"sesame/internal/crypto"
	"sesame/internal/domain"
	"sesame/internal/util/memzero"
)

// info is the HKDF label binding derived secrets to this handshake version.
const info = "sesame-x3dh-v1"

// secretSize is rootKey || chainKey.
const secretSize = 64

// ErrLowOrderPoint is returned when a peer key yields no usable DH output.
var ErrLowOrderPoint = errors.New("x3dh: low-order public key")

// Secrets is the output of one handshake: the first root key and the
// chain key that seeds the initiator's first sending chain.
type Secrets struct {
	RootKey  []byte
	ChainKey []byte
}

// Wipe zeroes both keys.
func (s *Secrets) Wipe() { memzero.Zero(s.RootKey, s.ChainKey) }

// InitiatorSecrets derives the handshake secrets on the side that fetched
// the bundle. base is the initiator's fresh ephemeral key.
func InitiatorSecrets(
	ourIdentity domain.X25519Private,
	base domain.X25519Private,
	peerIdentity domain.X25519Public,
	peerSignedPreKey domain.X25519Public,
	peerPreKey *domain.X25519Public,
) (Secrets, error) {
	pairs := []dhPair{
		{ourIdentity, peerSignedPreKey}, // DH(IKa, SPKb)
		{base, peerIdentity},            // DH(EKa, IKb)
		{base, peerSignedPreKey},        // DH(EKa, SPKb)
	}
	if peerPreKey != nil {
		pairs = append(pairs, dhPair{base, *peerPreKey}) // DH(EKa, OPKb)
	}
	return derive(pairs)
}

// ResponderSecrets mirrors InitiatorSecrets using the bundle owner's private
// prekeys and the initiator's identity and base key.
func ResponderSecrets(
	ourIdentity domain.X25519Private,
	ourSignedPreKey domain.X25519Private,
	ourPreKey *domain.X25519Private,
	peerIdentity domain.X25519Public,
	peerBase domain.X25519Public,
) (Secrets, error) {
	pairs := []dhPair{
		{ourSignedPreKey, peerIdentity}, // DH(SPKb, IKa)
		{ourIdentity, peerBase},         // DH(IKb, EKa)
		{ourSignedPreKey, peerBase},     // DH(SPKb, EKa)
	}
	if ourPreKey != nil {
		pairs = append(pairs, dhPair{*ourPreKey, peerBase}) // DH(OPKb, EKa)
	}
	return derive(pairs)
}

// VerifySignedPreKey checks the identity signature over a signed prekey.
func VerifySignedPreKey(signing domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return crypto.VerifyEd25519(signing, spk.Slice(), sig)
}

type dhPair struct {
	priv domain.X25519Private
	pub  domain.X25519Public
}

func derive(pairs []dhPair) (Secrets, error) {
	transcript := make([]byte, 0, 32*len(pairs))
	defer func() { memzero.Zero(transcript) }()

	for _, p := range pairs {
		out, err := crypto.DH(p.priv, p.pub)
		if err != nil {
			return Secrets{}, ErrLowOrderPoint
		}
		transcript = append(transcript, out[:]...)
		memzero.Zero(out[:])
	}

	okm, err := crypto.KDF(transcript, nil, []byte(info), secretSize)
	if err != nil {
		return Secrets{}, err
	}
	return Secrets{RootKey: okm[:32:32], ChainKey: okm[32:]}, nil
}
