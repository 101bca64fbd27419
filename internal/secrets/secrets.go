// Package secrets generates webhook signing secrets and encrypts them at
// rest. The encryption key is an explicit dependency injected at
// construction time, never process-global state.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
)

const secretLength = 16

const alphanumericCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ123456789"

// pepper is appended to every secret before encryption so stored values
// cannot be decrypted with the key alone, without access to the codebase.
const pepper = "yRPB2lp1dlOPCRn94N8FuCPFLb4hyNzrsA"

// GenerateSecret returns a new 16-character alphanumeric signing secret.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	var b strings.Builder
	for _, c := range raw {
		b.WriteByte(alphanumericCharset[int(c)%len(alphanumericCharset)])
	}
	return b.String(), nil
}

// NewWebhookSecret returns a freshly generated secret with identity and
// creation time filled in.
func NewWebhookSecret() (domain.WebhookSecret, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return domain.WebhookSecret{}, err
	}
	return domain.WebhookSecret{
		ID:          uuid.NewString(),
		Secret:      secret,
		CreatedDate: time.Now().UTC(),
	}, nil
}

// LastFour returns the redacted display form of a secret: an ellipsis plus
// its last four characters.
func LastFour(secret string) string {
	runes := []rune(secret)
	if len(runes) > 4 {
		runes = runes[len(runes)-4:]
	}
	return "…" + string(runes)
}

// Codec encrypts and decrypts signing secrets with AES-GCM.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a codec from a 16- or 32-byte key.
func NewCodec(key []byte) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext) of the peppered secret.
func (c *Codec) Encrypt(secret string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(secret+pepper), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(encrypted string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decode encrypted secret: %w", err)
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", errors.New("encrypted secret too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return strings.TrimSuffix(string(plain), pepper), nil
}
