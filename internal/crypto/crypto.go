// Package crypto holds the cryptographic primitives shared by the vault and
// snapshot layers: ChaCha20-Poly1305 sealing, Argon2id passphrase derivation
// and HKDF sub-key derivation.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the ChaCha20-Poly1305 key length.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the AEAD nonce length.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag length.
	TagSize = chacha20poly1305.Overhead
	// SaltSize is the key-derivation salt length used in persisted headers.
	SaltSize = 16

	// Argon2id parameters for passphrase-derived keys.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
)

// Seal encrypts plaintext under key with a fresh random nonce. The nonce is
// returned separately so callers control its placement in their own layout.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts and authenticates a Seal output. The error is deliberately
// uniform for any authentication failure.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(nonce) != aead.NonceSize() || len(ciphertext) < aead.Overhead() {
		return nil, errors.New("encrypted data too short")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("authentication failed")
	}
	return plaintext, nil
}

// DeriveKey stretches a passphrase into a KeySize key with Argon2id and
// returns it in a locked buffer. The intermediate unprotected copy is wiped
// before returning.
func DeriveKey(passphrase, salt []byte) (*memguard.LockedBuffer, error) {
	if len(salt) == 0 {
		return nil, errors.New("empty derivation salt")
	}
	derived := argon2.IDKey(passphrase, salt, ArgonTime, ArgonMemory, ArgonThreads, KeySize)
	protected := memguard.NewBufferFromBytes(derived)
	return protected, nil
}

// DeriveSubKey derives an independent KeySize key from root material, a
// per-use random salt and a context label via HKDF-SHA256. Compromise of one
// sub-key reveals nothing about siblings or the root.
func DeriveSubKey(root, salt, info []byte) ([]byte, error) {
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, root, salt, info), sub); err != nil {
		return nil, fmt.Errorf("failed to derive sub-key: %w", err)
	}
	return sub, nil
}

// EncryptWithPassphrase encrypts data using a passphrase with PBKDF2 +
// ChaCha20-Poly1305. Output layout: salt(32) | nonce(12) | ciphertext+tag.
// Used for portable single-record exports, not for snapshots.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(passphrase), salt, 100000, KeySize, sha256.New)
	defer memguard.WipeBytes(key)

	nonce, ciphertext, err := Seal(key, data)
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(encrypted []byte, passphrase string) ([]byte, error) {
	if len(encrypted) < 32+NonceSize+TagSize {
		return nil, errors.New("encrypted data too short")
	}
	salt := encrypted[:32]
	nonce := encrypted[32 : 32+NonceSize]
	ciphertext := encrypted[32+NonceSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, KeySize, sha256.New)
	defer memguard.WipeBytes(key)

	return Open(key, nonce, ciphertext)
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsWeakKey flags key material that is too short or visibly low-entropy
// (all-zero, single repeated byte, fewer than 16 distinct byte values).
func IsWeakKey(key []byte) bool {
	if len(key) < KeySize {
		return true
	}
	distinct := make(map[byte]struct{}, 32)
	same := true
	for _, b := range key {
		distinct[b] = struct{}{}
		if b != key[0] {
			same = false
		}
	}
	return same || len(distinct) < 16
}
