package envelope

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/sealchat/identity"
)

// fakeDirectory is a canned key directory keyed by user id.
type fakeDirectory struct {
	devices map[string][]Device
	errs    map[string]error
}

func (d *fakeDirectory) DevicesFor(_ context.Context, userID string) ([]Device, error) {
	if err, ok := d.errs[userID]; ok {
		return nil, err
	}
	return d.devices[userID], nil
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	keys, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return &identity.Identity{DeviceID: "device-" + keys.PublicHex()[:8], Keys: keys}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sender := newTestIdentity(t)
	receiver := newTestIdentity(t)

	dir := &fakeDirectory{devices: map[string][]Device{
		"bob": {{DeviceID: receiver.DeviceID, PublicKey: receiver.PublicKey()}},
	}}

	senderCodec := NewCodec(sender, dir)
	receiverCodec := NewCodec(receiver, dir)

	result, err := senderCodec.Encode(context.Background(), "chat-1", "hello bob", []string{"bob"})
	require.NoError(t, err)
	require.Len(t, result.Envelopes, 1)
	assert.Equal(t, sender.DeviceID, result.SenderDeviceID)
	assert.Empty(t, result.Failures)

	plaintext, ok := receiverCodec.Decode(result.Envelopes, "alice")
	require.True(t, ok)
	assert.Equal(t, "hello bob", string(plaintext))
}

func TestEncodeFansOutPerDevice(t *testing.T) {
	sender := newTestIdentity(t)
	devA := newTestIdentity(t)
	devB := newTestIdentity(t)

	dir := &fakeDirectory{devices: map[string][]Device{
		"bob": {
			{DeviceID: devA.DeviceID, PublicKey: devA.PublicKey()},
			{DeviceID: devB.DeviceID, PublicKey: devB.PublicKey()},
		},
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hi", []string{"bob"})
	require.NoError(t, err)
	assert.Len(t, result.Envelopes, 2, "one envelope per recipient device")

	// Each device opens only its own envelope.
	for _, dev := range []*identity.Identity{devA, devB} {
		plaintext, ok := NewCodec(dev, dir).Decode(result.Envelopes, "alice")
		require.True(t, ok)
		assert.Equal(t, "hi", string(plaintext))
	}
}

func TestEncodeSkipsOwnDevice(t *testing.T) {
	sender := newTestIdentity(t)
	other := newTestIdentity(t)

	// The sender's user entry includes the sending device itself.
	dir := &fakeDirectory{devices: map[string][]Device{
		"alice": {
			{DeviceID: sender.DeviceID, PublicKey: sender.PublicKey()},
			{DeviceID: other.DeviceID, PublicKey: other.PublicKey()},
		},
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "note to self", []string{"alice"})
	require.NoError(t, err)
	require.Len(t, result.Envelopes, 1)
	assert.Equal(t, other.DeviceID, result.Envelopes[0].RecipientDeviceID)
}

func TestEncodePartialFailure(t *testing.T) {
	sender := newTestIdentity(t)
	devA := newTestIdentity(t)

	// Device B's key material is missing: the fan-out must still produce
	// device A's envelope and note the failure for device B.
	dir := &fakeDirectory{devices: map[string][]Device{
		"bob": {
			{DeviceID: devA.DeviceID, PublicKey: devA.PublicKey()},
			{DeviceID: "broken-device"},
		},
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hi", []string{"bob"})
	require.NoError(t, err)
	require.Len(t, result.Envelopes, 1)
	assert.Equal(t, devA.DeviceID, result.Envelopes[0].RecipientDeviceID)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bob", result.Failures[0].UserID)
	assert.Equal(t, "broken-device", result.Failures[0].DeviceID)
}

func TestEncodeRecipientWithNoDevices(t *testing.T) {
	sender := newTestIdentity(t)
	devA := newTestIdentity(t)

	dir := &fakeDirectory{devices: map[string][]Device{
		"bob":   {{DeviceID: devA.DeviceID, PublicKey: devA.PublicKey()}},
		"carol": nil,
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hi", []string{"bob", "carol"})
	require.NoError(t, err, "one broken recipient must not block the others")
	assert.Len(t, result.Envelopes, 1)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "carol", result.Failures[0].UserID)
}

func TestEncodeDirectoryLookupFailure(t *testing.T) {
	sender := newTestIdentity(t)

	dir := &fakeDirectory{errs: map[string]error{"bob": errors.New("directory offline")}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hi", []string{"bob"})
	assert.ErrorIs(t, err, ErrAllRecipientsFailed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bob", result.Failures[0].UserID)
}

func TestDecodeTamperedEnvelope(t *testing.T) {
	sender := newTestIdentity(t)
	receiver := newTestIdentity(t)

	dir := &fakeDirectory{devices: map[string][]Device{
		"bob": {{DeviceID: receiver.DeviceID, PublicKey: receiver.PublicKey()}},
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hello", []string{"bob"})
	require.NoError(t, err)

	tampered := result.Envelopes[0]
	tampered.Ciphertext[len(tampered.Ciphertext)-1] ^= 0xFF

	plaintext, ok := NewCodec(receiver, dir).Decode([]Envelope{tampered}, "alice")
	assert.False(t, ok, "tampered ciphertext must fail closed")
	assert.Nil(t, plaintext)
}

func TestDecodeNoEnvelopeForThisDevice(t *testing.T) {
	sender := newTestIdentity(t)
	receiver := newTestIdentity(t)
	bystander := newTestIdentity(t)

	dir := &fakeDirectory{devices: map[string][]Device{
		"bob": {{DeviceID: receiver.DeviceID, PublicKey: receiver.PublicKey()}},
	}}

	result, err := NewCodec(sender, dir).Encode(context.Background(), "chat-1", "hello", []string{"bob"})
	require.NoError(t, err)

	_, ok := NewCodec(bystander, dir).Decode(result.Envelopes, "alice")
	assert.False(t, ok)
}

func TestEncodeValidation(t *testing.T) {
	sender := newTestIdentity(t)
	codec := NewCodec(sender, &fakeDirectory{})

	_, err := codec.Encode(context.Background(), "chat-1", "", []string{"bob"})
	assert.Error(t, err, "empty plaintext")

	_, err = codec.Encode(context.Background(), "chat-1", "hi", nil)
	assert.Error(t, err, "no recipients")
}
