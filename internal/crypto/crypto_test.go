package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(DeriveKey("a passphrase"))
	require.NoError(t, err)

	plaintext := []byte("sector payload")
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.Len(t, sealed, len(plaintext)+c.Overhead())

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New(DeriveKey("a passphrase"))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01
	_, err = c.Decrypt(sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestKeySizeChecked(t *testing.T) {
	_, err := New([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
