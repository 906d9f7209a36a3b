package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EncryptionKeyEnvVar names the environment variable holding the
	// state encryption passphrase.
	EncryptionKeyEnvVar = "TERRAPIN_STATE_ENCRYPTION_KEY"

	encryptedHeader = "# TERRAPIN_ENCRYPTED_STATE\n"
)

// EncryptState encrypts a state document with AES-256-GCM, keyed from the
// environment. Content passes through untouched when no key is set.
func EncryptState(content []byte) ([]byte, error) {
	key := encryptionKey()
	if key == nil {
		return content, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, content, nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return []byte(encryptedHeader + encoded + "\n"), nil
}

// DecryptState reverses EncryptState. Unencrypted content passes through.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	key := encryptionKey()
	if key == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether content carries the encrypted-state header.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}

// encryptionKey derives the 32-byte AES key from the passphrase in the
// environment, or returns nil when none is configured.
func encryptionKey() []byte {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}
