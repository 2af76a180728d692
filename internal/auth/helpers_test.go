package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testKeyID     = "test-key-fs"
	testAudience  = "https://frost-shard/api"
	testNamespace = "https://frost-shard/claims"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичных ключей.
func buildJWKSetJSON(keys map[string]*rsa.PublicKey) []byte {
	entries := make([]map[string]any, 0, len(keys))
	for kid, pub := range keys {
		entries = append(entries, map[string]any{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	data, _ := json.Marshal(map[string]any{"keys": entries})
	return data
}

// fakeIssuer — тестовый identity provider: JWKS endpoint со счётчиком
// запросов и возможностью подменить ключи или сломать endpoint.
type fakeIssuer struct {
	server   *httptest.Server
	requests atomic.Int32
	failing  atomic.Bool

	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

func newFakeIssuer(t *testing.T, keys map[string]*rsa.PublicKey) *fakeIssuer {
	t.Helper()
	fi := &fakeIssuer{keys: keys}
	fi.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fi.requests.Add(1)
		if fi.failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fi.mu.Lock()
		body := buildJWKSetJSON(fi.keys)
		fi.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(fi.server.Close)
	return fi
}

func (fi *fakeIssuer) setKeys(keys map[string]*rsa.PublicKey) {
	fi.mu.Lock()
	fi.keys = keys
	fi.mu.Unlock()
}

func (fi *fakeIssuer) issuer() string { return fi.server.URL + "/" }

// signToken подписывает токен RS256 с указанным kid.
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

// validClaims возвращает claims, проходящие проверку issuer/audience/exp.
func validClaims(issuer string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "auth0|user-1",
		"iss": issuer,
		"aud": testAudience,
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat": jwt.NewNumericDate(time.Now()),
		testNamespace: map[string]any{
			"email": "user@example.com",
			"roles": []any{"regular"},
		},
		"permissions": []any{"read:files", "create:files"},
	}
}
