package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, kp)

	assert.False(t, isZeroKey(kp.Public), "public key should not be all zeros")
	assert.False(t, isZeroKey(kp.Private), "private key should not be all zeros")

	// Public key must be deterministically derivable from the private key.
	rebuilt, err := FromSecretKey(kp.Private)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, rebuilt.Public)
}

func TestFromSecretKeyRejectsZeroKey(t *testing.T) {
	var zero [32]byte
	_, err := FromSecretKey(zero)
	assert.Error(t, err)
}

func TestLoadGeneratesOnce(t *testing.T) {
	dir := t.TempDir()
	pass := []byte("test-passphrase")

	first, err := Load(dir, pass)
	require.NoError(t, err)
	require.NotEmpty(t, first.DeviceID)

	// A second load must return the identical identity, not a new one.
	second, err := Load(dir, pass)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, first.Keys.Public, second.Keys.Public)
	assert.Equal(t, first.Keys.Private, second.Keys.Private)
}

func TestLoadWrongPassphrase(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, []byte("correct"))
	require.NoError(t, err)

	_, err = Load(dir, []byte("wrong"))
	assert.Error(t, err, "a wrong passphrase must not silently regenerate the identity")
}

func TestLoadRejectsEmptyPassphrase(t *testing.T) {
	_, err := Load(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStoreFilePermissions(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir, []byte("pass"))
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, identityFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCorruptBlobSurfacesError(t *testing.T) {
	dir := t.TempDir()
	pass := []byte("pass")

	_, err := Load(dir, pass)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, identityFile), []byte{0, 1, 2}, 0o600))

	_, err = Load(dir, pass)
	assert.Error(t, err)
}
