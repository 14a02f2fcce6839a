package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/org/ephemera/pkg/models"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrIntegrity is returned when a sealed record fails authentication or
	// cannot be decoded. It deliberately carries no detail about which.
	ErrIntegrity = errors.New("sealed record failed integrity check")

	// ErrEncryption is returned when the sealing primitive itself fails.
	ErrEncryption = errors.New("encryption failed")

	// ErrInvalidKey is returned for keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key size")
)

// GenerateKey generates a 32-byte cryptographically secure random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a data key from master key material using HKDF-SHA256.
func DeriveKey(master []byte, context string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Cipher seals and unseals messages with AES-256-GCM under a single key
// fixed at construction. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher builds a Cipher for key. The key bytes are not retained beyond
// the AES key schedule.
func NewCipher(key []byte) (*Cipher, error) {
	return newCipher(key, rand.Reader)
}

func newCipher(key []byte, random io.Reader) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: gcm, rand: random}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) (models.SealedRecord, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return models.SealedRecord{}, fmt.Errorf("%w: generating nonce: %v", ErrEncryption, err)
	}
	ciphertext := c.aead.Seal(nil, nonce, plaintext, nil)
	return models.SealedRecord{
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
	}, nil
}

// Unseal decrypts and authenticates rec. Any failure yields ErrIntegrity and
// a nil plaintext.
func (c *Cipher) Unseal(rec models.SealedRecord) ([]byte, error) {
	nonce, err := hex.DecodeString(rec.Nonce)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, ErrIntegrity
	}
	ciphertext, err := hex.DecodeString(rec.Ciphertext)
	if err != nil || len(ciphertext) < c.aead.Overhead() {
		return nil, ErrIntegrity
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
