package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/org/ephemera/internal/crypto"
)

const messageKeyContext = "ephemera-message-v1"

// ErrBadKeyMaterial is returned when configured key material cannot be used.
var ErrBadKeyMaterial = errors.New("bad key material")

// KeySource describes where the master key comes from. When both fields are
// empty a random key is generated and lives only as long as the process.
type KeySource struct {
	Hex  string // 64 hex characters
	File string // file holding 64 hex characters or 32 raw bytes
}

// MessageKey is the process-wide data key handed to the Cipher.
type MessageKey struct {
	key       []byte
	ephemeral bool
}

// Bytes returns a copy of the derived key.
func (k MessageKey) Bytes() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}

// Ephemeral reports whether the key was generated for this process only.
// Messages sealed under an ephemeral key cannot be read after a restart.
func (k MessageKey) Ephemeral() bool {
	return k.ephemeral
}

// LoadMessageKey resolves the master key from src and derives the message
// data key from it.
func LoadMessageKey(src KeySource) (MessageKey, error) {
	master, ephemeral, err := loadMaster(src)
	if err != nil {
		return MessageKey{}, err
	}
	defer zeroBytes(master)

	key, err := crypto.DeriveKey(master, messageKeyContext)
	if err != nil {
		return MessageKey{}, err
	}
	return MessageKey{key: key, ephemeral: ephemeral}, nil
}

func loadMaster(src KeySource) ([]byte, bool, error) {
	switch {
	case src.Hex != "":
		key, err := decodeHexKey([]byte(src.Hex))
		if err != nil {
			return nil, false, fmt.Errorf("encryption key: %w", err)
		}
		return key, false, nil
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, false, fmt.Errorf("reading key file: %w", err)
		}
		defer zeroBytes(data)
		if len(data) == crypto.KeySize {
			key := make([]byte, crypto.KeySize)
			copy(key, data)
			return key, false, nil
		}
		key, err := decodeHexKey(data)
		if err != nil {
			return nil, false, fmt.Errorf("key file %s: %w", src.File, err)
		}
		return key, false, nil
	default:
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, false, err
		}
		return key, true, nil
	}
}

func decodeHexKey(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) != hex.EncodedLen(crypto.KeySize) {
		return nil, fmt.Errorf("%w: expected %d hex characters", ErrBadKeyMaterial, hex.EncodedLen(crypto.KeySize))
	}
	key := make([]byte, crypto.KeySize)
	if _, err := hex.Decode(key, raw); err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrBadKeyMaterial)
	}
	return key, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
