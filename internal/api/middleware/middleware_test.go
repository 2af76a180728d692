package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobiaxs/frost-shard/internal/auth"
)

// resolverFunc — адаптер функции к IdentityResolver.
type resolverFunc func(ctx context.Context, raw string) (auth.Identity, error)

func (f resolverFunc) Resolve(ctx context.Context, raw string) (auth.Identity, error) {
	return f(ctx, raw)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoIdentity отвечает email из контекста.
var echoIdentity = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(identity.Email()))
})

func tokenResolver(t *testing.T, want string) resolverFunc {
	return func(_ context.Context, raw string) (auth.Identity, error) {
		if raw == "" {
			return auth.Identity{}, fmt.Errorf("%w: токен не передан", auth.ErrAuthentication)
		}
		if raw != want {
			return auth.Identity{}, auth.ErrInvalidToken
		}
		return auth.NewIdentity("alice@example.com", []auth.Role{auth.RoleRegular}, nil), nil
	}
}

func TestAuthenticator_Bearer(t *testing.T) {
	a := NewAuthenticator(tokenResolver(t, "good"), "access_token", testLogger())
	h := a.Middleware()(echoIdentity)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@example.com", rec.Body.String())
}

func TestAuthenticator_CookieTakesPrecedence(t *testing.T) {
	a := NewAuthenticator(tokenResolver(t, "from-cookie"), "access_token", testLogger())
	h := a.Middleware()(echoIdentity)

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "from-cookie"})
	req.Header.Set("Authorization", "Bearer from-header")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator(tokenResolver(t, "good"), "access_token", testLogger())
	h := a.Middleware()(echoIdentity)

	tests := []struct {
		name   string
		header string
	}{
		{"без токена", ""},
		{"не Bearer", "Basic Zm9vOmJhcg=="},
		{"чужой токен", "Bearer bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/files", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"detail"`)
		})
	}
}

func TestAuthenticator_UnexpectedError(t *testing.T) {
	a := NewAuthenticator(resolverFunc(func(context.Context, string) (auth.Identity, error) {
		return auth.Identity{}, errors.New("boom")
	}), "access_token", testLogger())

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	a.Middleware()(echoIdentity).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIdentityFromContext_Missing(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func TestDropEmptyQuery(t *testing.T) {
	var got string
	h := DropEmptyQuery(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
	}))

	tests := map[string]string{
		"/files?email=&date__gt=2024-01-01&page=": "date__gt=2024-01-01",
		"/files?email=&limit=":                    "",
		"/files":                                  "",
		"/files?page=2&page=":                     "page=2",
	}
	for target, want := range tests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, got, target)
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	for status, level := range map[int]string{200: "INFO", 404: "WARN", 503: "ERROR"} {
		buf.Reset()
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("abc"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files?email=secret@example.com", nil))

		line := buf.String()
		assert.Contains(t, line, "level="+level)
		assert.Contains(t, line, "bytes=3")
		assert.NotContains(t, line, "secret@example.com")
	}
}

func TestRequestLogger_RedactsSensitiveQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?code=auth-code-123&state=state-value-xyz", nil))

	line := buf.String()
	assert.NotContains(t, line, "auth-code-123")
	assert.NotContains(t, line, "state-value-xyz")
	assert.Contains(t, line, "code=[REDACTED]")
	assert.Contains(t, line, "component=access_log")
}

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"пусто", "", ""},
		{"фильтры дат остаются", "date__gt=2024-01-01&page=2", "date__gt=2024-01-01&page=2"},
		{"email скрыт", "email=bob@example.com&limit=5", "email=[REDACTED]&limit=5"},
		{"регистр имени", "EMAIL=bob@example.com", "EMAIL=[REDACTED]"},
		{"несколько значений", "code=a&code=b", "code=[REDACTED]&code=[REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, redactQuery(values))
		})
	}
}

func TestLevelForStatus(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, levelForStatus(http.StatusFound))
	assert.Equal(t, slog.LevelWarn, levelForStatus(http.StatusUnauthorized))
	assert.Equal(t, slog.LevelError, levelForStatus(http.StatusBadGateway))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/files", normalizePath("/files"))
	assert.Equal(t, "/health/ready", normalizePath("/health/ready"))
	assert.Equal(t, "other", normalizePath("/files/1234"))
	assert.Equal(t, "other", normalizePath("/wp-admin"))
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/files", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
}
