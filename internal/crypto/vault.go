package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// KeySize is the required length of the symmetric key in bytes (AES-256).
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
	separator = "."
)

var (
	// ErrInvalidKey indicates a missing or malformed encryption key. It is a
	// configuration problem and should stop the process at startup.
	ErrInvalidKey = errors.New("crypto: encryption key must be 32 bytes (64 hex characters or base64)")

	// ErrIntegrity is returned for any payload that cannot be authenticated.
	ErrIntegrity = errors.New("crypto: encrypted payload failed integrity check")
)

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Vault seals secrets at rest with AES-256-GCM.
//
// Serialized form: base64(nonce) "." base64(tag) "." base64(ciphertext).
type Vault struct {
	key []byte
}

// ParseKey decodes a 32-byte key given either as 64 hex characters or base64.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidKey
	}
	if hexKeyPattern.MatchString(raw) {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decoded %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// NewVault returns a vault bound to a 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{key: k}, nil
}

// NewVaultFromString parses raw key material and returns a vault.
func NewVaultFromString(raw string) (*Vault, error) {
	key, err := ParseKey(raw)
	if err != nil {
		return nil, err
	}
	return NewVault(key)
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, separator), nil
}

// Decrypt authenticates and opens a value produced by Encrypt. Every
// malformed or tampered input yields ErrIntegrity.
func (v *Vault) Decrypt(serialized string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	parts := strings.Split(serialized, separator)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 components, got %d", ErrIntegrity, len(parts))
	}

	enc := base64.StdEncoding.Strict()
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: invalid nonce", ErrIntegrity)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: invalid tag", ErrIntegrity)
	}
	ciphertext, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrIntegrity)
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrIntegrity)
	}
	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	if v == nil || len(v.key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return gcm, nil
}
