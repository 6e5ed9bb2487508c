package strata

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ProofOfReach/strata/internal/misc"
)

// fallbackSecret is substituted when a caller encrypts without supplying a
// secret. It provides obfuscation only, not secrecy: anything that needs
// real confidentiality (secure items, the interaction vault) must supply an
// explicit secret derived from user key material.
const fallbackSecret = "strata-default-item-secret"

// DecryptionError is returned by strict-mode decryption when the payload
// cannot be authenticated or decoded.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Codec performs symmetric authenticated encryption of serialized payloads
// with AES-256-GCM. Every write derives a fresh key from the caller's secret
// via PBKDF2-SHA256 with a random salt and uses a random nonce, so equal
// plaintexts never produce equal ciphertexts.
//
// Output layout, base64-encoded: salt(16) || nonce(12) || ciphertext+tag.
type Codec struct {
	strict bool
}

// NewCodec returns a codec. In strict mode decryption failures surface as
// *DecryptionError; otherwise the input is returned unchanged and the
// failure is logged, which lets legacy plain payloads pass through.
func NewCodec(strict bool) *Codec {
	return &Codec{strict: strict}
}

// Encrypt encrypts plaintext under secret and returns the base64 payload.
func (c *Codec) Encrypt(plaintext []byte, secret string) (string, error) {
	if secret == "" {
		log.Printf("WARNING: codec: no secret supplied, using fallback key; do not store sensitive data this way")
		secret = fallbackSecret
	}

	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. In non-strict mode any failure returns the
// original input bytes unchanged (logged); callers then fall back to
// treating the content as plain serialized data.
func (c *Codec) Decrypt(payload string, secret string) ([]byte, error) {
	if secret == "" {
		secret = fallbackSecret
	}

	fail := func(reason string, err error) ([]byte, error) {
		if c.strict {
			return nil, &DecryptionError{Reason: reason, Err: err}
		}
		log.Printf("codec: %s (%v), returning payload unchanged", reason, err)
		return []byte(payload), nil
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fail("invalid base64 encoding", err)
	}

	if len(raw) < misc.SaltSize+gcmNonceSize+gcmTagSize {
		return fail("payload too short", fmt.Errorf("%d bytes", len(raw)))
	}

	salt := raw[:misc.SaltSize]
	nonce := raw[misc.SaltSize : misc.SaltSize+gcmNonceSize]
	ciphertext := raw[misc.SaltSize+gcmNonceSize:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return fail("cipher setup failed", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fail("authentication failed", err)
	}

	return plaintext, nil
}

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, misc.PBKDF2Iterations, misc.KeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
