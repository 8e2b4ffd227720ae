// Package artifactcrypt optionally seals blobs placed under a vault's
// artifacts/ directory with golang.org/x/crypto/chacha20poly1305 (spec
// §4.8). Sealing is invisible to the event log: an event payload may
// reference an artifact by the content hash of its plaintext, and the
// core never requires the blob to be decryptable to validate the chain.
package artifactcrypt

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Seal encrypts plaintext under key (32 bytes), returning nonce-prefixed
// ciphertext suitable for writing directly to an artifacts/ blob.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, reading the nonce from the front of sealed.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed artifact shorter than nonce size")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed artifact: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random 32-byte chacha20poly1305 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating artifact key: %w", err)
	}
	return key, nil
}
