package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32 // AES-256
	iterations = 100000
)

// defaultPassphrase only obfuscates; set CACHE_PASSPHRASE for real protection
const defaultPassphrase = "prop-ledger-local-cache"

// Crypto seals cache entries with AES-256-GCM under a PBKDF2-derived key.
// Sealed layout: salt | nonce | ciphertext.
type Crypto struct {
	passphrase string
}

// NewCrypto creates a new Crypto instance
func NewCrypto(passphrase string) *Crypto {
	if passphrase == "" {
		passphrase = defaultPassphrase
	}
	return &Crypto{passphrase: passphrase}
}

func (c *Crypto) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(c.passphrase), salt, iterations, keySize, sha256.New)
}

func (c *Crypto) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with a fresh salt and nonce
func (c *Crypto) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens data sealed by Encrypt
func (c *Crypto) Decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("ciphertext too short")
	}

	salt, rest := data[:saltSize], data[saltSize:]
	gcm, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("decryption failed: invalid passphrase or corrupted data")
	}
	return plaintext, nil
}
