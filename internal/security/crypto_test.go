package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDeriveCacheKey tests PBKDF2 key derivation
func TestDeriveCacheKey(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, SaltSize)
	fp := HashComponents(FingerprintComponents{Hostname: "a"})

	key := DeriveCacheKey(fp, salt)
	require.Len(t, key, KeySize)
	assert.Equal(t, key, DeriveCacheKey(fp, salt), "derivation must be deterministic")

	otherSalt := bytes.Repeat([]byte{0x02}, SaltSize)
	assert.NotEqual(t, key, DeriveCacheKey(fp, otherSalt))
	assert.NotEqual(t, key, DeriveCacheKey(fp+"x", salt))
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt(SaltSize)
	require.NoError(t, err)
	b, err := GenerateSalt(SaltSize)
	require.NoError(t, err)

	assert.Len(t, a, SaltSize)
	assert.NotEqual(t, a, b)

	def, err := GenerateSalt(0)
	require.NoError(t, err)
	assert.Len(t, def, SaltSize)
}

// TestEncryptDecrypt tests AES-256-GCM round trips and tamper detection
func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"json record", []byte(`{"key":"PRO-ABCD-EFGH-IJKL-MNOP","features":["pro.*"]}`)},
		{"empty", []byte{}},
		{"large", bytes.Repeat([]byte("x"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Encrypt(tt.plaintext, key)
			require.NoError(t, err)

			assert.Len(t, sealed.IV, IVSize)
			assert.Len(t, sealed.Tag, TagSize)
			assert.Len(t, sealed.Ciphertext, len(tt.plaintext))

			out, err := Decrypt(sealed, key)
			require.NoError(t, err)
			assert.Equal(t, len(tt.plaintext), len(out))
			assert.True(t, bytes.Equal(tt.plaintext, out))
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	a, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key)
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	sealed, err := Encrypt([]byte("license payload"), key)
	require.NoError(t, err)

	flip := func(b []byte) []byte {
		c := append([]byte(nil), b...)
		c[0] ^= 0xff
		return c
	}

	tests := []struct {
		name   string
		sealed *Sealed
		key    []byte
		want   error
	}{
		{"ciphertext", &Sealed{Ciphertext: flip(sealed.Ciphertext), IV: sealed.IV, Tag: sealed.Tag}, key, ErrDecryptionFailed},
		{"iv", &Sealed{Ciphertext: sealed.Ciphertext, IV: flip(sealed.IV), Tag: sealed.Tag}, key, ErrDecryptionFailed},
		{"tag", &Sealed{Ciphertext: sealed.Ciphertext, IV: sealed.IV, Tag: flip(sealed.Tag)}, key, ErrDecryptionFailed},
		{"wrong key", sealed, bytes.Repeat([]byte{0x43}, KeySize), ErrDecryptionFailed},
		{"short iv", &Sealed{Ciphertext: sealed.Ciphertext, IV: sealed.IV[:8], Tag: sealed.Tag}, key, ErrInvalidSealed},
		{"nil", nil, key, ErrInvalidSealed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decrypt(tt.sealed, tt.key)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, out)
		})
	}
}

func TestInvalidKeySize(t *testing.T) {
	for _, size := range []int{0, 16, 24, 31, 33, 64} {
		_, err := Encrypt([]byte("data"), make([]byte, size))
		require.ErrorIs(t, err, ErrInvalidKeySize)
		assert.Contains(t, err.Error(), "256 bits")
	}
}

// TestHMAC tests HMAC-SHA256 computation and constant-time verification
func TestHMAC(t *testing.T) {
	key := []byte("hmac-key")
	data := []byte("encrypted|iv|tag|salt|1")

	mac := ComputeHMAC(data, key)
	require.Len(t, mac, MACSize)
	assert.True(t, VerifyHMAC(data, key, mac))

	assert.False(t, VerifyHMAC([]byte("encrypted|iv|tag|salt|2"), key, mac))
	assert.False(t, VerifyHMAC(data, []byte("other-key"), mac))
	assert.False(t, VerifyHMAC(data, key, mac[:16]))
	assert.False(t, VerifyHMAC(data, key, nil))
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}

func TestDeriveMACKey(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, KeySize)

	mac, err := DeriveMACKey(key)
	require.NoError(t, err)
	assert.Len(t, mac, KeySize)
	assert.NotEqual(t, key, mac)

	again, err := DeriveMACKey(key)
	require.NoError(t, err)
	assert.Equal(t, mac, again)

	_, err = DeriveMACKey(key[:16])
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
