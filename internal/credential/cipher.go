package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopePrefix = "v1:"
	hkdfInfo       = "seatbroker/credential/v1"
)

var (
	ErrDecryptionFailure = errkind.New(errkind.KindDecryptionFailure, "decryption_failure")
	ErrSecretMissing     = errkind.New(errkind.KindConfigurationMissing, "credential_secret_missing")
)

// Cipher seals resource credentials at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type aesCipher struct {
	aead cipher.AEAD
}

// NewAESCipher derives a 256-bit AES-GCM key from secret.
func NewAESCipher(secret string) (Cipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretMissing
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aesCipher{aead: aead}, nil
}

func (c *aesCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("credential is empty")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (c *aesCipher) Decrypt(ciphertext string) (string, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(ciphertext), envelopePrefix)
	if !ok {
		return "", ErrDecryptionFailure
	}
	sealed, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrDecryptionFailure
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return "", ErrDecryptionFailure
	}
	plain, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailure
	}
	return string(plain), nil
}
