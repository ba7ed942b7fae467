package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the work factor for deriving cache keys.
	PBKDF2Iterations = 100000

	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = 12

	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16

	// SaltSize is the default salt length in bytes.
	SaltSize = 16

	// MACSize is the HMAC-SHA256 output length in bytes.
	MACSize = sha256.Size

	macKeyInfo = "prolicense cache hmac v1"
)

var (
	// ErrInvalidKeySize is returned when a key is not exactly 256 bits.
	ErrInvalidKeySize = errors.New("encryption key must be 256 bits (32 bytes)")

	// ErrInvalidSealed is returned when a sealed payload has the wrong shape.
	ErrInvalidSealed = errors.New("sealed payload is malformed")

	// ErrDecryptionFailed is returned when authentication of the ciphertext fails.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// Sealed is the output of AES-256-GCM with the tag kept apart from the ciphertext.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// DeriveCacheKey stretches a machine fingerprint into a 32 byte key with PBKDF2-HMAC-SHA256.
func DeriveCacheKey(fingerprint string, salt []byte) []byte {
	return pbkdf2.Key([]byte(fingerprint), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// GenerateSalt returns n bytes from the system CSPRNG.
func GenerateSalt(n int) ([]byte, error) {
	if n <= 0 {
		n = SaltSize
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce.
func Encrypt(plaintext, key []byte) (*Sealed, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the tag to the ciphertext; split it off
	out := gcm.Seal(nil, iv, plaintext, nil)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split],
		IV:         iv,
		Tag:        out[split:],
	}, nil
}

// Decrypt opens a sealed payload, failing on any tampering.
func Decrypt(s *Sealed, key []byte) ([]byte, error) {
	if s == nil || len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return nil, ErrInvalidSealed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	full := make([]byte, 0, len(s.Ciphertext)+TagSize)
	full = append(full, s.Ciphertext...)
	full = append(full, s.Tag...)

	plaintext, err := gcm.Open(nil, s.IV, full, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// ComputeHMAC returns HMAC-SHA256(key, data).
func ComputeHMAC(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC checks a MAC in constant time.
func VerifyHMAC(data, key, mac []byte) bool {
	if len(mac) != MACSize {
		return false
	}
	return hmac.Equal(ComputeHMAC(data, key), mac)
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DeriveMACKey expands a cache key into an independent HMAC key with HKDF-SHA256.
func DeriveMACKey(cacheKey []byte) ([]byte, error) {
	if len(cacheKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	macKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, cacheKey, []byte(macKeyInfo)), macKey); err != nil {
		return nil, fmt.Errorf("failed to derive mac key: %w", err)
	}
	return macKey, nil
}
