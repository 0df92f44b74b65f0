// Package envelope turns a plaintext message into per-recipient-device
// sealed envelopes and opens inbound envelopes addressed to the local
// device.
//
// One logical message fans out to one envelope per recipient device, not
// per recipient user: a user with three registered devices receives three
// envelopes, each sealed to that device's static public key. The sender's
// own device is never a fan-out target.
//
// Sealing uses the one-way Noise X pattern
// (Noise_X_25519_ChaChaPoly_SHA256): the sender's static key travels
// encrypted inside the handshake message, so a single non-interactive
// message both authenticates the sender and encrypts the payload.
//
// Failure semantics are deliberately asymmetric. Encode degrades per
// recipient: one user with a broken key setup yields a recorded
// EncryptionFailure while every other recipient still gets envelopes.
// Decode never fails loudly: any problem (no envelope for this device,
// tampered ciphertext, key mismatch) yields (nil, false) so the caller can
// render a placeholder without disturbing the rest of the timeline.
package envelope
