package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrDecrypt = errors.New("unable to decrypt value")

// Cipher encrypts sensitive columns at rest (bank account numbers).
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// LookupHasher produces a deterministic keyed digest so equality checks
// do not need to decrypt a whole table.
type LookupHasher interface {
	Hash(value string) string
}

type accountCipher struct {
	key []byte
}

// NewAccountCipher returns an XChaCha20-Poly1305 cipher. Ciphertexts are base64(nonce|sealed).
func NewAccountCipher(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &accountCipher{key: k}, nil
}

func (c *accountCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *accountCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

type blakeHasher struct {
	key []byte
}

// NewLookupHasher returns a keyed BLAKE2b-256 hasher. Keys longer than 64 bytes are rejected.
func NewLookupHasher(key []byte) (LookupHasher, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("lookup key must be 1..%d bytes", blake2b.Size)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &blakeHasher{key: k}, nil
}

func (h *blakeHasher) Hash(value string) string {
	mac, _ := blake2b.New256(h.key)
	mac.Write([]byte(NormalizeAccountNumber(value)))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeAccountNumber strips spaces and dashes.
func NormalizeAccountNumber(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskAccountNumber keeps the last four characters.
func MaskAccountNumber(v string) string {
	if len(v) <= 4 {
		return "****" + v
	}
	return "****" + v[len(v)-4:]
}
