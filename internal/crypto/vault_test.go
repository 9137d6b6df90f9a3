package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVaultFromString(testHexKey)
	require.NoError(t, err)
	return v
}

func TestParseKey(t *testing.T) {
	raw := make([]byte, KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}

	testCases := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "hex", input: testHexKey},
		{name: "upper hex", input: strings.ToUpper(testHexKey)},
		{name: "base64", input: base64.StdEncoding.EncodeToString(raw)},
		{name: "empty", input: "", wantErr: true},
		{name: "short base64", input: base64.StdEncoding.EncodeToString(raw[:16]), wantErr: true},
		{name: "63 hex characters falls through to base64", input: testHexKey[:63], wantErr: true},
		{name: "garbage", input: "not a key!", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := ParseKey(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw, key)
		})
	}
}

func TestVaultRoundTrip(t *testing.T) {
	v := newTestVault(t)

	for _, plaintext := range []string{"", "ya29.access-token", "1//refresh", "ünïcødé ✓", strings.Repeat("x", 4096)} {
		sealed, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		opened, err := v.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestVaultEncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		sealed, err := v.Encrypt("same plaintext")
		require.NoError(t, err)
		_, dup := seen[sealed]
		require.False(t, dup, "encrypt produced identical output twice")
		seen[sealed] = struct{}{}
	}
}

func TestVaultWireFormat(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Encrypt("token")
	require.NoError(t, err)

	parts := strings.Split(sealed, ".")
	require.Len(t, parts, 3)

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.Len(t, nonce, 12)

	tag, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	assert.Len(t, tag, 16)

	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	assert.Len(t, ciphertext, len("token"))
}

func TestVaultDecryptRejectsTampering(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Encrypt("refresh-token-value")
	require.NoError(t, err)
	parts := strings.Split(sealed, ".")

	for component := range parts {
		for pos := 0; pos < len(parts[component]); pos++ {
			tampered := make([]string, len(parts))
			copy(tampered, parts)
			tampered[component] = flipChar(parts[component], pos)

			out, err := v.Decrypt(strings.Join(tampered, "."))
			require.ErrorIs(t, err, ErrIntegrity, "component %d position %d", component, pos)
			assert.Empty(t, out)
		}
	}
}

func TestVaultDecryptMalformed(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Encrypt("value")
	require.NoError(t, err)
	parts := strings.Split(sealed, ".")

	testCases := map[string]string{
		"empty":             "",
		"two components":    parts[0] + "." + parts[1],
		"four components":   sealed + "." + parts[2],
		"not base64":        "!!!." + parts[1] + "." + parts[2],
		"short nonce":       base64.StdEncoding.EncodeToString([]byte("short")) + "." + parts[1] + "." + parts[2],
		"swapped nonce/tag": parts[1] + "." + parts[0] + "." + parts[2],
	}

	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Decrypt(input)
			require.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestVaultWrongKey(t *testing.T) {
	v := newTestVault(t)
	sealed, err := v.Encrypt("secret")
	require.NoError(t, err)

	other, err := NewVaultFromString(strings.Repeat("ab", 32))
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestVaultWithoutKey(t *testing.T) {
	var v *Vault
	_, err := v.Encrypt("x")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = (&Vault{}).Decrypt("a.b.c")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewVault([]byte("too short"))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func flipChar(s string, pos int) string {
	b := []byte(s)
	switch b[pos] {
	case 'A':
		b[pos] = 'B'
	default:
		b[pos] = 'A'
	}
	return string(b)
}
