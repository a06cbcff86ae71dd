package vault

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestVault(t *testing.T, hexKey string) *Vault {
	t.Helper()
	key, err := ParseKey(hexKey)
	require.NoError(t, err)
	v, err := New(key)
	require.NoError(t, err)
	return v
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", testKeyHex, false},
		{"uppercase hex", strings.ToUpper(testKeyHex), false},
		{"too short", "deadbeef", true},
		{"too long", testKeyHex + "00", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t, testKeyHex)

	plaintexts := []string{
		"",
		"token",
		"a much longer bearer token with spaces and symbols !@#$%^&*()",
		"unicode: héllo wörld 日本語 🔑",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range plaintexts {
		ciphertext, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		got, err := v.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t, testKeyHex)

	first, err := v.Encrypt("secret")
	require.NoError(t, err)
	second, err := v.Encrypt("secret")
	require.NoError(t, err)

	// Random nonces mean identical plaintexts never share ciphertext.
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongKey(t *testing.T) {
	v := newTestVault(t, testKeyHex)
	other := newTestVault(t, "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100")

	ciphertext, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	v := newTestVault(t, testKeyHex)

	ciphertext, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)

	// Flip one bit in the ciphertext body.
	raw[len(raw)-1] ^= 0x01
	_, err = v.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptTruncated(t *testing.T) {
	v := newTestVault(t, testKeyHex)

	ciphertext, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)

	for _, n := range []int{0, 1, nonceSize - 1, nonceSize, len(raw) - 1} {
		_, err := v.Decrypt(base64.StdEncoding.EncodeToString(raw[:n]))
		assert.ErrorIs(t, err, ErrDecrypt, "truncated to %d bytes", n)
	}
}

func TestDecryptGarbage(t *testing.T) {
	v := newTestVault(t, testKeyHex)

	for _, input := range []string{"not base64 at all!!!", "", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := v.Decrypt(input)
		assert.True(t, errors.Is(err, ErrDecrypt), "input %q", input)
	}
}
