package cryptobox

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := New(key)
	require.NoError(t, err)
	return box
}

func TestNew_InvalidKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	ct, err := box.Encrypt([]byte("user@example.com"))
	require.NoError(t, err)

	pt, err := box.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", string(pt))
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	box := newTestBox(t)

	a, err := box.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := box.Encrypt([]byte("same"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b), "два шифротекста одного текста совпали")
}

func TestDecrypt_Tampered(t *testing.T) {
	box := newTestBox(t)

	ct, err := box.Encrypt([]byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff

	_, err = box.Decrypt(ct)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_WrongKey(t *testing.T) {
	ct, err := newTestBox(t).Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = newTestBox(t).Decrypt(ct)
	require.ErrorIs(t, err, ErrDecryption)
	require.NotErrorIs(t, err, ErrNotCiphertext)
}

func TestDecrypt_TooShort(t *testing.T) {
	_, err := newTestBox(t).Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDecryption)
	require.ErrorIs(t, err, ErrNotCiphertext)
}

func TestToken_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	token, err := box.EncryptToken("user@example.com:2020-01-03")
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")

	pt, err := box.DecryptToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com:2020-01-03", pt)
}

func TestDecryptToken_InvalidBase64(t *testing.T) {
	_, err := newTestBox(t).DecryptToken(strings.Repeat("!", 10))
	require.ErrorIs(t, err, ErrDecryption)
	require.ErrorIs(t, err, ErrNotCiphertext)
}
