/*
 * Copyright 2025 the Pulseboard Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package secrets

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard/pkg/logger"
	"github.com/pulseboard/pulseboard/pkg/models"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()

	key := make([]byte, keyLength)
	for i := range key {
		key[i] = byte(i)
	}

	c, err := NewCipher(key, logger.NewTestLogger())
	require.NoError(t, err)

	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("super-secret-api-key")
	require.NoError(t, err)

	assert.True(t, IsEncrypted(encrypted))
	assert.True(t, strings.HasPrefix(encrypted, EncPrefix))
	assert.NotContains(t, encrypted, "super-secret")

	assert.Equal(t, "super-secret-api-key", c.Decrypt(encrypted))
}

func TestEncryptIsIdempotent(t *testing.T) {
	c := newTestCipher(t)

	once, err := c.Encrypt("password1")
	require.NoError(t, err)

	twice, err := c.Encrypt(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, "password1", c.Decrypt(twice))
}

func TestEncryptEmptyStringPassesThrough(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, encrypted)

	assert.Empty(t, c.Decrypt(""))
}

func TestDecryptPlaintextReturnsUnchanged(t *testing.T) {
	c := newTestCipher(t)

	for _, value := range []string{
		"plain-password",
		"https://grafana.example.com:3000",
		"short",
	} {
		assert.Equal(t, value, c.Decrypt(value))
	}
}

func TestDecryptTamperedCiphertextReturnsUnchanged(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("value")
	require.NoError(t, err)

	tampered := encrypted[:len(encrypted)-4] + "AAAA"
	assert.Equal(t, tampered, c.Decrypt(tampered))
}

func TestDecryptWrongKeyReturnsUnchanged(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("value")
	require.NoError(t, err)

	other := make([]byte, keyLength)
	for i := range other {
		other[i] = byte(0xff - i)
	}

	c2, err := NewCipher(other, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, encrypted, c2.Decrypt(encrypted))
}

func TestDecryptLegacyUntaggedCiphertext(t *testing.T) {
	c := newTestCipher(t)

	encrypted, err := c.Encrypt("legacy-credential-value")
	require.NoError(t, err)

	// Values written before tagging were stored as bare base64.
	legacy := strings.TrimPrefix(encrypted, EncPrefix)
	require.True(t, isLikelyLegacyCiphertext(legacy))

	assert.Equal(t, "legacy-credential-value", c.Decrypt(legacy))
}

func TestNewCipherRejectsBadKeyLength(t *testing.T) {
	_, err := NewCipher([]byte("too-short"), logger.NewTestLogger())
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestNewCipherFromConfigExplicitKey(t *testing.T) {
	key := make([]byte, keyLength)
	for i := range key {
		key[i] = byte(i * 3)
	}

	for name, encoded := range map[string]string{
		"hex":    hex.EncodeToString(key),
		"base64": base64.StdEncoding.EncodeToString(key),
	} {
		t.Run(name, func(t *testing.T) {
			c, err := NewCipherFromConfig(&models.SecretsConfig{Key: encoded}, logger.NewTestLogger())
			require.NoError(t, err)
			assert.Equal(t, key, c.key)
		})
	}
}

func TestNewCipherFromConfigRejectsBadKey(t *testing.T) {
	_, err := NewCipherFromConfig(&models.SecretsConfig{Key: "not-a-key"}, logger.NewTestLogger())
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestNewCipherFromConfigDerivedKeyIsStable(t *testing.T) {
	cfg := &models.SecretsConfig{AppSecret: "application-secret"}

	c1, err := NewCipherFromConfig(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	c2, err := NewCipherFromConfig(cfg, logger.NewTestLogger())
	require.NoError(t, err)

	// Same secret derives the same key, so ciphertext survives restarts.
	encrypted, err := c1.Encrypt("credential")
	require.NoError(t, err)
	assert.Equal(t, "credential", c2.Decrypt(encrypted))
}

func TestNewCipherFromConfigGeneratesAndPersistsKey(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "pulseboard.key")

	c1, err := NewCipherFromConfig(&models.SecretsConfig{KeyFile: keyFile}, logger.NewTestLogger())
	require.NoError(t, err)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(keyFileMode), info.Mode().Perm())

	// A second cipher loads the persisted key and can read the first one's output.
	c2, err := NewCipherFromConfig(&models.SecretsConfig{KeyFile: keyFile}, logger.NewTestLogger())
	require.NoError(t, err)

	encrypted, err := c1.Encrypt("credential")
	require.NoError(t, err)
	assert.Equal(t, "credential", c2.Decrypt(encrypted))
}

func TestIsLikelyLegacyCiphertext(t *testing.T) {
	assert.False(t, isLikelyLegacyCiphertext("short"))
	assert.False(t, isLikelyLegacyCiphertext("https://example.com/a/very/long/path/that/keeps/going"))
	assert.False(t, isLikelyLegacyCiphertext("this is a long sentence with whitespace in it padded out"))
	assert.False(t, isLikelyLegacyCiphertext(strings.Repeat("!", 50)))
	assert.True(t, isLikelyLegacyCiphertext(base64.StdEncoding.EncodeToString(make([]byte, 40))))
}
