package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"sesame/internal/domain"
)

// registrationIDMask keeps registration ids in the 14-bit range peers expect.
const registrationIDMask = 0x3fff

// GenerateIdentity creates a fresh identity: an X25519 pair for key
// agreement and an Ed25519 pair for signing prekeys.
func GenerateIdentity() (domain.Identity, error) {
	xPriv, xPub, err := GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edPriv, edPub, err := GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}, nil
}

// GenerateRegistrationID returns a random non-zero 14-bit registration id.
func GenerateRegistrationID() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if id := binary.BigEndian.Uint32(b[:]) & registrationIDMask; id != 0 {
			return id, nil
		}
	}
}

// GeneratePreKey creates the one-time prekey with the given id.
func GeneratePreKey(id uint32) (domain.PreKeyRecord, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return domain.PreKeyRecord{}, err
	}
	return domain.PreKeyRecord{ID: id, KeyPair: kp}, nil
}

// GenerateSignedPreKey creates a prekey and signs its public half with the
// identity signing key.
func GenerateSignedPreKey(identity domain.Identity, id uint32) (domain.SignedPreKeyRecord, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return domain.SignedPreKeyRecord{}, err
	}
	return domain.SignedPreKeyRecord{
		ID:         id,
		KeyPair:    kp,
		Signature:  SignEd25519(identity.EdPriv, kp.Pub.Slice()),
		CreatedUTC: time.Now().Unix(),
	}, nil
}
