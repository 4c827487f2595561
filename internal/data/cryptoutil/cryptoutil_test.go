package cryptoutil

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMEncryptor_EncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	plaintext := []byte("my secret value")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// Verify it has the v1 prefix
	assert.Contains(t, ciphertext, "v1:")

	// Decrypt and verify
	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_BackwardCompatibilityWithNoop(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	// Simulate a secret that was encrypted with NoopEncryptor
	plaintext := []byte("legacy secret value")
	noopCiphertext := noopPrefix + base64.StdEncoding.EncodeToString(plaintext)

	// AES encryptor should be able to decrypt noop-encrypted secrets
	decrypted, err := enc.Decrypt(noopCiphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMEncryptor_InvalidKey(t *testing.T) {
	// Key too short
	_, err := NewAESGCMEncryptor([]byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")

	// Key too long
	_, err = NewAESGCMEncryptor(make([]byte, 64))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestAESGCMEncryptor_InvalidCiphertext(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewAESGCMEncryptor(key)
	require.NoError(t, err)

	// Unknown version
	_, err = enc.Decrypt("v2:somedata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ciphertext version")

	// Invalid base64
	_, err = enc.Decrypt("v1:!!!invalid!!!")
	require.Error(t, err)

	// Ciphertext too short
	_, err = enc.Decrypt("v1:" + base64.StdEncoding.EncodeToString([]byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ciphertext too short")
}

func TestKeyFromSecret(t *testing.T) {
	// 64 hex chars decode directly
	hexSecret := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	key, err := KeyFromSecret(hexSecret)
	require.NoError(t, err)
	require.Len(t, key, 32)
	assert.Equal(t, byte(0x00), key[0])
	assert.Equal(t, byte(0x1f), key[31])

	// arbitrary passphrases hash down to 32 bytes
	derived, err := KeyFromSecret("correct horse battery staple")
	require.NoError(t, err)
	assert.Len(t, derived, 32)

	// derivation is deterministic
	again, err := KeyFromSecret("correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, derived, again)

	// a 64-char value that is not hex falls back to hashing
	notHex, err := KeyFromSecret("zz" + hexSecret[2:])
	require.NoError(t, err)
	assert.Len(t, notHex, 32)
	assert.NotEqual(t, key, notHex)

	// the derived key is usable for AES-256
	_, err = NewAESGCMEncryptor(derived)
	require.NoError(t, err)

	// empty secrets are rejected
	_, err = KeyFromSecret("  ")
	require.Error(t, err)
}

func TestNoopEncryptor_EncryptDecrypt(t *testing.T) {
	enc := NoopEncryptor{}

	plaintext := []byte("test value")
	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// Verify it has the noop prefix
	assert.Contains(t, ciphertext, "noop:")

	// Decrypt and verify
	decrypted, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNoopEncryptor_InvalidCiphertext(t *testing.T) {
	enc := NoopEncryptor{}

	// Missing noop prefix
	_, err := enc.Decrypt("v1:somedata")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid noop ciphertext")
}
