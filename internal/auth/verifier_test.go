package auth

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestVerifier создаёт verifier поверх fake issuer.
func newTestVerifier(t *testing.T, fi *fakeIssuer) *TokenVerifier {
	t.Helper()
	cache := NewSigningKeyCache(fi.server.URL, fi.server.Client(), 30*time.Second, time.Hour, testLogger())
	return NewTokenVerifier(cache, fi.issuer(), testAudience, []string{"RS256"}, 0)
}

func TestTokenVerifier_Valid(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	claims, err := v.Verify(context.Background(), signToken(t, key, testKeyID, validClaims(fi.issuer())))
	require.NoError(t, err)
	assert.Equal(t, "auth0|user-1", claims.Subject())
	_, ok := claims.Get(testNamespace)
	assert.True(t, ok)
}

func TestTokenVerifier_UnknownKeyFailsAfterOneRefresh(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	_, err := v.Verify(context.Background(), signToken(t, other, "rotated-away", validClaims(fi.issuer())))
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.EqualValues(t, 1, fi.requests.Load())
}

func TestTokenVerifier_SignatureMismatch(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	// kid совпадает, но подпись сделана другим ключом
	_, err := v.Verify(context.Background(), signToken(t, other, testKeyID, validClaims(fi.issuer())))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenVerifier_ClaimMismatch(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"чужой issuer", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/" }},
		{"чужой audience", func(c jwt.MapClaims) { c["aud"] = "https://other/api" }},
		{"истёк", func(c jwt.MapClaims) { c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour)) }},
		{"без exp", func(c jwt.MapClaims) { delete(c, "exp") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(fi.issuer())
			tt.mutate(claims)
			_, err := v.Verify(context.Background(), signToken(t, key, testKeyID, claims))
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenVerifier_AlgorithmNotAllowed(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	token := jwt.NewWithClaims(jwt.SigningMethodRS512, validClaims(fi.issuer()))
	token.Header["kid"] = testKeyID
	raw, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.EqualValues(t, 0, fi.requests.Load(), "запрещённый алгоритм отклоняется до поиска ключа")
}

func TestTokenVerifier_HMACRejected(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(fi.issuer()))
	token.Header["kid"] = testKeyID
	raw, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenVerifier_Garbage(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, ErrInvalidToken, raw)
	}
}

func TestTokenVerifier_MissingKid(t *testing.T) {
	key := generateTestKey(t)
	fi := newFakeIssuer(t, map[string]*rsa.PublicKey{testKeyID: &key.PublicKey})
	v := newTestVerifier(t, fi)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(fi.issuer()))
	raw, err := token.SignedString(key)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}
