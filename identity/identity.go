// Package identity manages the local installation's device identity: a
// stable device identifier plus the Curve25519 key pair used to address
// envelopes to this device.
//
// The identity is created exactly once per installation and persisted
// encrypted at rest; every subsequent load returns the same device id and
// keys. Encode and decode paths, as well as the transport connect path,
// read the identity on every operation.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds the Curve25519 key pair bound to this device.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var private [32]byte
	if _, err := rand.Read(private[:]); err != nil {
		return nil, err
	}

	public, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{Private: private}
	copy(kp.Public[:], public)
	return kp, nil
}

// FromSecretKey rebuilds a key pair from a stored private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	public, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], public)
	return kp, nil
}

// PublicHex returns the hex encoding of the public key.
func (kp *KeyPair) PublicHex() string {
	return hex.EncodeToString(kp.Public[:])
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

// Identity is the persistent per-installation device identity.
type Identity struct {
	DeviceID string
	Keys     *KeyPair
}

// PublicKey returns the device's Curve25519 public key.
func (id *Identity) PublicKey() [32]byte {
	return id.Keys.Public
}
