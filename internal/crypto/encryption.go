package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize   = 32 // AES-256 requires 32 bytes
	NonceSize = 12 // GCM standard nonce size
	SaltSize  = 16 // Salt for key derivation
)

// Encrypt encrypts plaintext using AES-256-GCM
// Returns base64-encoded: nonce + ciphertext
func Encrypt(plaintext string, key []byte) (string, error) {
	// 1. Validate key size (must be 32 bytes)
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	// 2. Create AES cipher
	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	// 3. Create GCM mode
	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	// 4. Generate random nonce
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// 5. Encrypt data
	ciphertext := aesGcm.Seal(nil, nonce, []byte(plaintext), nil)

	// 6. Prepend nonce to ciphertext
	result := append(nonce, ciphertext...)

	// 7. Encode as base64
	return base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt decrypts AES-256-GCM encrypted data
func Decrypt(ciphertext string, key []byte) (string, error) {
	// 1. Validate key size
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	// 2. Decode from base64
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	// 3. Check minimum length (nonce + at least some data)
	if len(decoded) < NonceSize {
		return "", errors.New("ciphertext too short")
	}

	// 4. Extract nonce (first 12 bytes)
	nonce := decoded[:NonceSize]

	// 5. Extract ciphertext (remaining bytes)
	cipherData := decoded[NonceSize:]

	// 6. Create AES cipher
	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	// 7. Create GCM mode
	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	// 8. Decrypt data
	plaintext, err := aesGcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", errors.New("decryption failed: invalid key or corrupted data")
	}

	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	_, err := io.ReadFull(rand.Reader, key)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKey derives a 32-byte encryption key from a password using Argon2id.
// Parameters match the library's recommended interactive profile.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, KeySize)
}

// EncryptWithPassword encrypts data using a password, generating a random
// salt and prepending it (base64) to the Encrypt output so Decrypt can
// recover the same key without a side channel.
func EncryptWithPassword(plaintext, password string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := DeriveKey(password, salt)
	body, err := Encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(salt) + ":" + body, nil
}

// DecryptWithPassword decrypts data encrypted with EncryptWithPassword.
func DecryptWithPassword(ciphertext, password string) (string, error) {
	salt64, body, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", errors.New("ciphertext missing salt separator")
	}
	salt, err := base64.StdEncoding.DecodeString(salt64)
	if err != nil {
		return "", err
	}
	key := DeriveKey(password, salt)
	return Decrypt(body, key)
}
