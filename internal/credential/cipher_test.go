package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewAESCipher("s3cret")
	require.NoError(t, err)

	sealed, err := c.Encrypt("access-token-123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "access-token-123")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "access-token-123", plain)
}

func TestDecryptWithOtherSecretFails(t *testing.T) {
	a, err := NewAESCipher("secret-a")
	require.NoError(t, err)
	b, err := NewAESCipher("secret-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt("token")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailure)
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	c, err := NewAESCipher("s3cret")
	require.NoError(t, err)

	for _, input := range []string{"", "plain-token", "v1:!!!", "v1:AAAA"} {
		_, err := c.Decrypt(input)
		assert.ErrorIs(t, err, ErrDecryptionFailure, input)
	}
}

func TestMissingSecret(t *testing.T) {
	_, err := NewAESCipher("  ")
	assert.ErrorIs(t, err, ErrSecretMissing)
}
