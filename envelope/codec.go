package envelope

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/identity"
)

// MaxPlaintextSize bounds a single message body (64KB is far above any
// realistic chat message and keeps hostile inputs cheap to reject).
const MaxPlaintextSize = 64 * 1024

// TombstoneText is the fixed content shown for deleted messages. Deleted
// messages are never decoded, whether or not envelopes are present.
const TombstoneText = "message deleted"

// PlaceholderText is the fixed content shown when no envelope addressed to
// the local device can be opened.
const PlaceholderText = "message could not be decrypted"

// ErrAllRecipientsFailed is returned by Encode when not a single envelope
// could be produced for any recipient.
var ErrAllRecipientsFailed = errors.New("envelope: all recipients failed")

// Device identifies one recipient device in the key directory.
type Device struct {
	DeviceID  string
	PublicKey [32]byte
}

// KeyDirectory enumerates the registered devices of a user. Implemented by
// an external collaborator; lookups may hit the network and honor ctx.
type KeyDirectory interface {
	DevicesFor(ctx context.Context, userID string) ([]Device, error)
}

// Envelope is one recipient-device-scoped ciphertext unit.
type Envelope struct {
	RecipientDeviceID string `json:"recipientDeviceId"`
	RecipientUserID   string `json:"recipientUserId"`
	Ciphertext        []byte `json:"ciphertext"`
}

// EncryptionFailure records one recipient that could not be sealed to.
// DeviceID is empty when the whole user failed (no devices, lookup error).
type EncryptionFailure struct {
	UserID   string
	DeviceID string
	Err      error
}

func (f *EncryptionFailure) Error() string {
	if f.DeviceID == "" {
		return fmt.Sprintf("encryption failed for user %s: %v", f.UserID, f.Err)
	}
	return fmt.Sprintf("encryption failed for user %s device %s: %v", f.UserID, f.DeviceID, f.Err)
}

func (f *EncryptionFailure) Unwrap() error { return f.Err }

// EncodeResult carries the envelope fan-out for one logical message plus
// any per-recipient failures. SenderDeviceID correlates the outbound send
// with the server's echo of it.
type EncodeResult struct {
	Envelopes      []Envelope
	SenderDeviceID string
	Failures       []EncryptionFailure
}

// Codec seals and opens envelopes on behalf of the local device.
type Codec struct {
	local     *identity.Identity
	directory KeyDirectory
	suite     noise.CipherSuite
}

// NewCodec creates a codec bound to the local device identity.
func NewCodec(local *identity.Identity, directory KeyDirectory) *Codec {
	return &Codec{
		local:     local,
		directory: directory,
		suite:     noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
	}
}

// Encode seals plaintext once per recipient device. Recipients that cannot
// be sealed to are recorded in the result's Failures and do not block the
// rest of the fan-out; ErrAllRecipientsFailed is returned only when no
// envelope at all could be produced.
func (c *Codec) Encode(ctx context.Context, chatID, plaintext string, recipientUserIDs []string) (*EncodeResult, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("envelope: empty plaintext")
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, errors.New("envelope: plaintext too large")
	}
	if len(recipientUserIDs) == 0 {
		return nil, errors.New("envelope: no recipients")
	}

	result := &EncodeResult{SenderDeviceID: c.local.DeviceID}

	for _, userID := range recipientUserIDs {
		devices, err := c.directory.DevicesFor(ctx, userID)
		if err != nil {
			result.Failures = append(result.Failures, EncryptionFailure{UserID: userID, Err: err})
			logrus.WithFields(logrus.Fields{
				"function": "Encode",
				"package":  "envelope",
				"chat_id":  chatID,
				"user_id":  userID,
				"error":    err.Error(),
			}).Warn("Device lookup failed, skipping recipient")
			continue
		}

		sealed := 0
		for _, dev := range devices {
			if dev.DeviceID == c.local.DeviceID {
				// The sender already has the plaintext.
				continue
			}

			ciphertext, err := c.seal([]byte(plaintext), dev.PublicKey)
			if err != nil {
				result.Failures = append(result.Failures, EncryptionFailure{
					UserID:   userID,
					DeviceID: dev.DeviceID,
					Err:      err,
				})
				continue
			}

			result.Envelopes = append(result.Envelopes, Envelope{
				RecipientDeviceID: dev.DeviceID,
				RecipientUserID:   userID,
				Ciphertext:        ciphertext,
			})
			sealed++
		}

		if sealed == 0 && len(devices) == 0 {
			result.Failures = append(result.Failures, EncryptionFailure{
				UserID: userID,
				Err:    errors.New("no registered devices"),
			})
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Encode",
		"package":   "envelope",
		"chat_id":   chatID,
		"envelopes": len(result.Envelopes),
		"failures":  len(result.Failures),
	}).Debug("Envelope fan-out complete")

	if len(result.Envelopes) == 0 {
		return result, ErrAllRecipientsFailed
	}
	return result, nil
}

// Decode locates the envelope addressed to the local device and opens it.
// It returns ok=false on any failure; decode problems are per-message and
// must never abort timeline processing.
func (c *Codec) Decode(envelopes []Envelope, senderID string) ([]byte, bool) {
	for _, env := range envelopes {
		if env.RecipientDeviceID != c.local.DeviceID {
			continue
		}

		plaintext, err := c.open(env.Ciphertext)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Decode",
				"package":   "envelope",
				"sender_id": senderID,
				"error":     err.Error(),
			}).Warn("Failed to open envelope addressed to this device")
			return nil, false
		}
		return plaintext, true
	}

	return nil, false
}

// seal runs a one-way Noise X handshake as initiator; the single handshake
// message carries the encrypted payload.
func (c *Codec) seal(plaintext []byte, recipientPK [32]byte) ([]byte, error) {
	if recipientPK == ([32]byte{}) {
		return nil, errors.New("missing device public key")
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: c.suite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeX,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: c.local.Keys.Private[:],
			Public:  c.local.Keys.Public[:],
		},
		PeerStatic: recipientPK[:],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	message, _, _, err := hs.WriteMessage(nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal envelope: %w", err)
	}
	return message, nil
}

// open runs the responder side of the one-way X handshake.
func (c *Codec) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: c.suite,
		Pattern:     noise.HandshakeX,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: c.local.Keys.Private[:],
			Public:  c.local.Keys.Public[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	plaintext, _, _, err := hs.ReadMessage(nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope: %w", err)
	}
	return plaintext, nil
}
