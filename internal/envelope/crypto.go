// Package envelope implements the encrypted wire envelope used for
// gateway traffic: AES-256-CBC over a JSON-serialized payload, with the
// key derived by hashing the configured secret and the ciphertext and
// initialization vector carried hex-encoded alongside the event name.
package envelope

import (
	"bytes"
	"crypto/aes"
	cipherPkg "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/delfinzap/realtime/internal/constants"
)

var (
	// ErrDecrypt is returned when a ciphertext, iv, or the decrypted
	// plaintext cannot be processed
	ErrDecrypt = errors.New("envelope decryption failed")
	// ErrEncrypt is returned when payload serialization or encryption fails
	ErrEncrypt = errors.New("envelope encryption failed")
)

// Envelope is the wire representation of one encrypted event.
// Event carries the plaintext event name; the outer frame's event name
// is prefixed with constants.EncryptedEventPrefix.
type Envelope struct {
	Event     string `json:"event"`
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
}

// Crypto encrypts and decrypts event payloads. The AES-256 key is the
// SHA-256 digest of the configured secret, computed once at construction.
// A fresh random initialization vector is generated on every Encrypt call;
// ivs are never reused across messages sharing the key.
type Crypto struct {
	block cipherPkg.Block
}

// NewCrypto creates a Crypto from the operator-configured secret.
func NewCrypto(secret string) (*Crypto, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption secret cannot be empty")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	return &Crypto{block: block}, nil
}

// Encrypt serializes payload to JSON and encrypts it under a fresh random iv.
// Returns the hex-encoded ciphertext and iv.
func (c *Crypto) Encrypt(payload interface{}) (string, string, error) {
	plaintext, err := json.Marshal(payload)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	iv := make([]byte, aes.BlockSize)
	// No else needed: early return pattern (guard clause)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", fmt.Errorf("%w: failed to generate iv: %v", ErrEncrypt, err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipherPkg.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(ciphertext), hex.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt: hex-decodes the ciphertext and iv, decrypts,
// strips padding, and deserializes the JSON plaintext.
func (c *Crypto) Decrypt(ciphertextHex, ivHex string) (interface{}, error) {
	iv, err := hex.DecodeString(ivHex)
	// No else needed: early return pattern (guard clause)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecrypt)
	}

	ciphertext, err := hex.DecodeString(ciphertextHex)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecrypt)
	}
	// No else needed: early return pattern (guard clause)
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", ErrDecrypt, len(ciphertext))
	}

	plaintext := make([]byte, len(ciphertext))
	cipherPkg.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	var payload interface{}
	// No else needed: early return pattern (guard clause)
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: plaintext is not valid JSON", ErrDecrypt)
	}

	return payload, nil
}

// EncryptEnvelope wraps Encrypt with the plaintext event name.
func (c *Crypto) EncryptEnvelope(event string, payload interface{}) (*Envelope, error) {
	ciphertext, iv, err := c.Encrypt(payload)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Event:     event,
		Encrypted: ciphertext,
		IV:        iv,
	}, nil
}

// DecryptEnvelope unwraps an envelope into its plaintext event name and payload.
func (c *Crypto) DecryptEnvelope(env *Envelope) (string, interface{}, error) {
	payload, err := c.Decrypt(env.Encrypted, env.IV)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return "", nil, err
	}
	return env.Event, payload, nil
}

// PlainEventName strips the encrypted-event prefix from a wire event name.
func PlainEventName(wireEvent string) string {
	return strings.TrimPrefix(wireEvent, constants.EncryptedEventPrefix)
}

// IsEncryptedEvent reports whether a wire event name carries the
// encrypted-envelope marker.
func IsEncryptedEvent(wireEvent string) bool {
	return strings.HasPrefix(wireEvent, constants.EncryptedEventPrefix)
}

// pkcs7Pad appends PKCS#7 padding up to the block size.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

// pkcs7Unpad validates and strips PKCS#7 padding.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding length")
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding bytes")
		}
	}

	return data[:len(data)-padLen], nil
}
