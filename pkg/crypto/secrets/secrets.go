/*
 * Copyright 2025 the Pulseboard Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package secrets encrypts credential fields before they reach storage.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

const (
	keyLength   = 32
	nonceLength = 12

	// EncPrefix tags ciphertext with a format version so future formats
	// can coexist with v1 values already at rest.
	EncPrefix = "enc:v1:"

	derivationSalt       = "pulseboard.credentials.v1"
	derivationIterations = 4096

	keyFileMode = 0o600
)

var (
	// ErrInvalidKeyLength indicates the provided key is not the required size.
	ErrInvalidKeyLength = errors.New("secrets: encryption key must be 32 bytes")
	// ErrCiphertextTooShort indicates the ciphertext payload is shorter than the nonce.
	ErrCiphertextTooShort = errors.New("secrets: ciphertext too short")
	// ErrNoKeyMaterial indicates no key could be resolved or generated.
	ErrNoKeyMaterial = errors.New("secrets: no usable key material")
)

// Cipher wraps AES-256-GCM helpers for encrypting credential fields before
// storage. Encrypt is idempotent on already-tagged input; Decrypt treats
// undecryptable values as legacy plaintext and returns them unchanged.
type Cipher struct {
	key    []byte
	logger logger.Logger
}

// NewCipher constructs a Cipher from the provided key bytes.
func NewCipher(key []byte, log logger.Logger) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}

	buf := make([]byte, keyLength)
	copy(buf, key)

	return &Cipher{key: buf, logger: log}, nil
}

// NewCipherFromConfig resolves key material in precedence order: an explicit
// key, a key derived from the application secret, then a generated key
// persisted to the key file. If persisting the generated key fails, the key
// is kept in memory for the process lifetime and a warning is logged.
func NewCipherFromConfig(cfg *models.SecretsConfig, log logger.Logger) (*Cipher, error) {
	if cfg == nil {
		cfg = &models.SecretsConfig{}
	}

	if cfg.Key != "" {
		key, err := decodeKey(cfg.Key)
		if err != nil {
			return nil, err
		}

		return NewCipher(key, log)
	}

	if cfg.AppSecret != "" {
		key := pbkdf2.Key([]byte(cfg.AppSecret), []byte(derivationSalt), derivationIterations, keyLength, sha256.New)
		return NewCipher(key, log)
	}

	key, err := loadOrGenerateKey(cfg.KeyFile, log)
	if err != nil {
		return nil, err
	}

	return NewCipher(key, log)
}

// decodeKey accepts a 64-char hex key or a base64-encoded 32-byte key.
func decodeKey(value string) ([]byte, error) {
	if len(value) == keyLength*2 {
		if key, err := hex.DecodeString(value); err == nil {
			return key, nil
		}
	}

	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}

	return key, nil
}

func loadOrGenerateKey(path string, log logger.Logger) ([]byte, error) {
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			key, err := hex.DecodeString(strings.TrimSpace(string(data)))
			if err == nil && len(key) == keyLength {
				return key, nil
			}

			log.Warn().Str("key_file", path).Msg("Ignoring unreadable key file, generating a new key")
		}
	}

	key := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoKeyMaterial, err)
	}

	if path == "" {
		log.Warn().Msg("No key file configured; generated encryption key will not survive a restart")
		return key, nil
	}

	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), keyFileMode); err != nil {
		log.Warn().Err(err).Str("key_file", path).
			Msg("Failed to persist encryption key; credentials encrypted this run cannot be read after restart")
	}

	return key, nil
}

// IsEncrypted reports whether the value carries the versioned ciphertext tag.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncPrefix)
}

// IsEncrypted reports whether the value is already encrypted by this cipher's
// current format.
func (*Cipher) IsEncrypted(value string) bool {
	return IsEncrypted(value)
}

// Encrypt serialises plaintext using AES-256-GCM and returns a tagged base64
// payload. Already-tagged input is returned as-is, so double encryption
// cannot occur. Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || IsEncrypted(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: init gcm: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return EncPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Values that do not carry the tag and do not look
// like legacy ciphertext are assumed to be plaintext and returned unchanged;
// so are tagged values that fail to decrypt. Decryption failure is a soft
// condition, logged at debug, never an error.
func (c *Cipher) Decrypt(value string) string {
	switch {
	case value == "":
		return value
	case IsEncrypted(value):
		plaintext, err := c.open(strings.TrimPrefix(value, EncPrefix))
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to decrypt tagged value, returning as-is")
			return value
		}

		return plaintext
	case isLikelyLegacyCiphertext(value):
		plaintext, err := c.open(value)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Legacy-looking value did not decrypt, treating as plaintext")
			return value
		}

		return plaintext
	default:
		return value
	}
}

func (c *Cipher) open(encoded string) (string, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secrets: decode ciphertext: %w", err)
	}

	if len(payload) < nonceLength {
		return "", ErrCiphertextTooShort
	}

	nonce := payload[:nonceLength]
	ciphertext := payload[nonceLength:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt payload: %w", err)
	}

	return string(plaintext), nil
}

// isLikelyLegacyCiphertext detects values written before ciphertext was
// tagged: long base64 strings that do not look like URLs or free text.
// Kept as an isolated predicate so it can be deleted once all stored data
// is confirmed migrated to the tagged format.
func isLikelyLegacyCiphertext(value string) bool {
	const minLegacyLength = 44 // base64 of nonce + at least one block

	if len(value) < minLegacyLength {
		return false
	}

	if strings.Contains(value, "://") || strings.ContainsAny(value, " \t\n") {
		return false
	}

	if _, err := base64.StdEncoding.DecodeString(value); err != nil {
		return false
	}

	return true
}
