package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// ErrInvalidKey is returned when the AES key material is missing or malformed.
var ErrInvalidKey = errors.New("invalid AES key")

// pbkdf2Salt is fixed: the derived key must be stable across restarts so
// previously encrypted secrets remain decryptable.
var pbkdf2Salt = []byte("session-manager-credential-cipher")

const pbkdf2Iterations = 600_000

// Cipher encrypts and decrypts account secrets with AES-256-GCM.
// A fresh random nonce is generated per Encrypt call and never reused.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher returns a Cipher using the given 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// KeyFromConfig resolves the 32-byte AES key from config: keyB64 takes
// precedence and must decode to exactly 32 bytes; otherwise the key is
// derived from passphrase via PBKDF2-SHA256.
func KeyFromConfig(keyB64, passphrase string) ([]byte, error) {
	if keyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil || len(key) != 32 {
			return nil, ErrInvalidKey
		}
		return key, nil
	}
	if passphrase == "" {
		return nil, ErrInvalidKey
	}
	return pbkdf2.Key([]byte(passphrase), pbkdf2Salt, pbkdf2Iterations, 32, sha256.New), nil
}

// Encrypt encrypts plaintext and returns the base64 ciphertext and the base64
// nonce used, which must be stored alongside for decryption.
func (c *Cipher) Encrypt(plaintext string) (cipherText, iv string, err error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt reverses Encrypt given the stored ciphertext and nonce.
func (c *Cipher) Decrypt(cipherText, iv string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", err
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", err
	}
	if len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidKey
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
