// Package vault resolves step secrets from the persistence layer and keeps
// plaintext confined to the executing process.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecryptionFailed = errors.New("secret decryption failed")

// Encryptor seals and opens secret values. Implementations must never log
// plaintext.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SecretboxEncryptor implements Encryptor with NaCl secretbox. The random
// nonce is prefixed to the ciphertext.
type SecretboxEncryptor struct {
	key [keySize]byte
}

// NewSecretboxEncryptor builds an encryptor from a hex-encoded 32-byte key.
func NewSecretboxEncryptor(hexKey string) (*SecretboxEncryptor, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}

	if len(raw) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(raw))
	}

	e := &SecretboxEncryptor{}
	copy(e.key[:], raw)

	return e, nil
}

func (e *SecretboxEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte

	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &e.key), nil
}

func (e *SecretboxEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptionFailed
	}

	var nonce [nonceSize]byte

	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &e.key)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
