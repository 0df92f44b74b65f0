package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
	// StoreVersion is the current on-disk blob format version.
	StoreVersion = 1
	// SaltSize is the size of the salt for PBKDF2.
	SaltSize = 32

	identityFile = "device.identity"
	saltFile     = ".salt"
)

// storedIdentity is the JSON payload inside the encrypted blob.
type storedIdentity struct {
	DeviceID   string `json:"deviceId"`
	PrivateKey string `json:"privateKey"`
}

// Store persists the device identity encrypted at rest under a data
// directory. The encryption key is derived from a caller-supplied
// passphrase via PBKDF2; the salt lives beside the blob.
type Store struct {
	dataDir       string
	encryptionKey [32]byte
}

// NewStore creates an identity store rooted at dataDir. passphrase should
// come from the platform keyring or a user secret; it must not be empty.
func NewStore(dataDir string, passphrase []byte) (*Store, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{dataDir: dataDir}

	salt, err := s.loadOrGenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize salt: %w", err)
	}

	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New)
	copy(s.encryptionKey[:], derived)
	for i := range derived {
		derived[i] = 0
	}

	return s, nil
}

// Load returns the persisted identity, generating and persisting a new one
// on first run. The device id is stable across restarts: once a valid blob
// exists it is never regenerated.
func Load(dataDir string, passphrase []byte) (*Identity, error) {
	store, err := NewStore(dataDir, passphrase)
	if err != nil {
		return nil, err
	}
	return store.Load()
}

// Load reads the identity blob, creating a fresh identity if none exists.
func (s *Store) Load() (*Identity, error) {
	blob, err := s.readEncrypted(identityFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return s.generate()
	}

	var stored storedIdentity
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("corrupt identity blob: %w", err)
	}

	rawKey, err := hex.DecodeString(stored.PrivateKey)
	if err != nil || len(rawKey) != 32 {
		return nil, fmt.Errorf("corrupt identity key material")
	}

	var secret [32]byte
	copy(secret[:], rawKey)
	keys, err := FromSecretKey(secret)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"package":   "identity",
		"device_id": stored.DeviceID,
	}).Debug("Loaded persisted device identity")

	return &Identity{DeviceID: stored.DeviceID, Keys: keys}, nil
}

// generate creates a brand-new identity and persists it before returning.
func (s *Store) generate() (*Identity, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate device keys: %w", err)
	}

	id := &Identity{
		DeviceID: uuid.NewString(),
		Keys:     keys,
	}

	payload, err := json.Marshal(storedIdentity{
		DeviceID:   id.DeviceID,
		PrivateKey: hex.EncodeToString(keys.Private[:]),
	})
	if err != nil {
		return nil, err
	}

	if err := s.writeEncrypted(identityFile, payload); err != nil {
		return nil, fmt.Errorf("failed to persist identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "generate",
		"package":   "identity",
		"device_id": id.DeviceID,
	}).Info("Generated new device identity")

	return id, nil
}

func (s *Store) loadOrGenerateSalt() ([]byte, error) {
	path := filepath.Join(s.dataDir, saltFile)
	salt := make([]byte, SaltSize)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read salt file: %w", err)
		}

		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		if err := os.WriteFile(path, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}

		return salt, nil
	}

	if len(data) != SaltSize {
		return nil, fmt.Errorf("invalid salt file size: got %d, want %d", len(data), SaltSize)
	}

	copy(salt, data)
	return salt, nil
}

// writeEncrypted writes an AES-256-GCM sealed blob.
// Format: [version:2][nonce:12][ciphertext+tag:N]
func (s *Store) writeEncrypted(filename string, plaintext []byte) error {
	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	output := make([]byte, 2+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(output[0:2], StoreVersion)
	copy(output[2:2+len(nonce)], nonce)
	copy(output[2+len(nonce):], ciphertext)

	// Atomic write using temporary file + rename.
	tmpFile := filepath.Join(s.dataDir, filename+".tmp")
	finalFile := filepath.Join(s.dataDir, filename)

	if err := os.WriteFile(tmpFile, output, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *Store) readEncrypted(filename string) ([]byte, error) {
	path := filepath.Join(s.dataDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(data) < 2+12+16 {
		return nil, fmt.Errorf("identity blob too short: %d bytes", len(data))
	}

	version := binary.BigEndian.Uint16(data[0:2])
	if version != StoreVersion {
		return nil, fmt.Errorf("unsupported identity blob version: %d", version)
	}

	block, err := aes.NewCipher(s.encryptionKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 2+nonceSize {
		return nil, fmt.Errorf("identity blob too short for nonce: %d bytes", len(data))
	}

	nonce := data[2 : 2+nonceSize]
	ciphertext := data[2+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong passphrase or corrupted data): %w", err)
	}

	return plaintext, nil
}
