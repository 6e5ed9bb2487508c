package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ProofOfReach/strata/internal/misc"
)

// EncryptValue encrypts a value with a 32-byte key using ChaCha20-Poly1305.
// Output layout: nonce || ciphertext.
func EncryptValue(value, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, value, nil)

	encrypted := make([]byte, len(nonce)+len(ciphertext))
	copy(encrypted[:len(nonce)], nonce)
	copy(encrypted[len(nonce):], ciphertext)

	return encrypted, nil
}

// DecryptValue decrypts data produced by EncryptValue.
func DecryptValue(encryptedData, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(encryptedData) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("encrypted data too short")
	}

	nonceSize := aead.NonceSize()
	nonce := encryptedData[:nonceSize]
	ciphertext := encryptedData[nonceSize:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return plaintext, nil
}

// DeriveIdentityKey stretches raw identity key material into a 32-byte
// symmetric key using Argon2id, salted with a digest of the identity's
// public key so the same material always yields the same vault key. The
// derived key is sealed into a memguard enclave; the intermediate buffers
// are wiped before returning.
func DeriveIdentityKey(material []byte, pubkey string) (*memguard.Enclave, error) {
	if len(material) == 0 {
		return nil, errors.New("empty key material")
	}
	if pubkey == "" {
		return nil, errors.New("empty pubkey")
	}

	saltDigest := sha256.Sum256([]byte("strata-vault-v1:" + pubkey))

	derived := argon2.IDKey(
		material,
		saltDigest[:misc.SaltSize],
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	buffer := memguard.NewBufferFromBytes(derived)
	memguard.WipeBytes(derived)

	return buffer.Seal(), nil
}

// Checksum calculates the SHA-256 checksum of data.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
