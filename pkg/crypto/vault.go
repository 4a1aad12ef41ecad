// Package crypto encrypts subscriber credential material at rest.
package crypto

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

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived AES-256 key size.
	KeySize = 32
	// NonceSize is the GCM nonce size.
	NonceSize = 12
	// MinSecretLen is the minimum accepted master secret length.
	MinSecretLen = 16

	// kdfIterations is the PBKDF2 iteration count. Matches OWASP guidance
	// for PBKDF2-HMAC-SHA256.
	kdfIterations = 480000

	versionPrefix = "ENC[v1]:"
)

// kdfSalt is fixed; credentials are already unique per subscriber and the
// vault never stores derived keys.
var kdfSalt = []byte("tia-broadcaster-v1")

var (
	ErrWeakSecret        = errors.New("master secret must be at least 16 characters")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed covers tampering, corruption and wrong-key cases.
	// Callers must treat it as fatal for the operation at hand; the same
	// ciphertext will never decrypt on retry.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Vault performs AES-256-GCM encryption with a key derived from one master
// secret via PBKDF2-SHA256.
type Vault struct {
	key []byte
}

// NewVault derives the encryption key from masterSecret.
func NewVault(masterSecret string) (*Vault, error) {
	if len(masterSecret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	key := pbkdf2.Key([]byte(masterSecret), kdfSalt, kdfIterations, KeySize, sha256.New)
	return &Vault{key: key}, nil
}

// Encrypt encrypts plaintext and returns ENC[v1]:base64(nonce+ciphertext).
// The empty string encrypts to the empty string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// nonce + ciphertext (includes auth tag)
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The empty string decrypts to the empty string.
// Any tampering or corruption yields ErrDecryptionFailed; the error never
// carries plaintext context.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	if !strings.HasPrefix(ciphertext, versionPrefix) {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, versionPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateMasterSecret returns a random hex secret suitable for NewVault.
func GenerateMasterSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return fmt.Sprintf("%x", buf), nil
}
