package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/tobiaxs/frost-shard/internal/api/errors"
	"github.com/tobiaxs/frost-shard/internal/api/generated"
	"github.com/tobiaxs/frost-shard/internal/api/middleware"
	"github.com/tobiaxs/frost-shard/internal/config"
)

// stubAPI запоминает параметры последнего запроса.
type stubAPI struct {
	listParams   *generated.ListFilesParams
	callbackCode string
}

func (s *stubAPI) Root(w http.ResponseWriter, _ *http.Request)       { w.WriteHeader(http.StatusFound) }
func (s *stubAPI) GetOpenAPI(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
func (s *stubAPI) Callback(w http.ResponseWriter, _ *http.Request, p generated.CallbackParams) {
	s.callbackCode = p.Code
	w.WriteHeader(http.StatusFound)
}
func (s *stubAPI) ListFiles(w http.ResponseWriter, _ *http.Request, p generated.ListFilesParams) {
	s.listParams = &p
	w.WriteHeader(http.StatusOK)
}
func (s *stubAPI) CreateFiles(w http.ResponseWriter, _ *http.Request)  { w.WriteHeader(http.StatusCreated) }
func (s *stubAPI) HealthLive(w http.ResponseWriter, _ *http.Request)   { w.WriteHeader(http.StatusOK) }
func (s *stubAPI) HealthReady(w http.ResponseWriter, _ *http.Request)  { w.WriteHeader(http.StatusOK) }
func (s *stubAPI) Login(w http.ResponseWriter, _ *http.Request)        { w.WriteHeader(http.StatusFound) }
func (s *stubAPI) Logout(w http.ResponseWriter, _ *http.Request)       { w.WriteHeader(http.StatusFound) }
func (s *stubAPI) GetMetrics(w http.ResponseWriter, _ *http.Request)   { w.WriteHeader(http.StatusOK) }

// denyAll — middleware аутентификации, отклоняющее все запросы.
func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.Unauthorized(w, "Требуется аутентификация")
	})
}

func passAll(next http.Handler) http.Handler { return next }

func testConfig() *config.Config {
	return &config.Config{
		Port:             0,
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(api *stubAPI, auth func(http.Handler) http.Handler) *Server {
	return New(testConfig(), testLogger(), api,
		middleware.DropEmptyQuery,
		AuthOnly(auth, "/files"),
	)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestListFiles_BindsQuery(t *testing.T) {
	api := &stubAPI{}
	h := newTestServer(api, passAll).Handler()

	rec := do(t, h, http.MethodGet, "/files?email=bob@example.com&date__gt=2024-01-01&page=2&limit=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, api.listParams)

	p := api.listParams
	require.NotNil(t, p.Email)
	assert.Equal(t, "bob@example.com", string(*p.Email))
	require.NotNil(t, p.DateGt)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), p.DateGt.Time)
	assert.Nil(t, p.DateLt)
	assert.Equal(t, 2, *p.Page)
	assert.Equal(t, 5, *p.Limit)
}

func TestListFiles_EmptyQueryValuesIgnored(t *testing.T) {
	api := &stubAPI{}
	h := newTestServer(api, passAll).Handler()

	rec := do(t, h, http.MethodGet, "/files?email=&date__gt=&page=&limit=")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, api.listParams)
	assert.Equal(t, generated.ListFilesParams{}, *api.listParams)
}

func TestBindErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"некорректная дата", "/files?date__lt=17.05.2024"},
		{"page не число", "/files?page=first"},
		{"нет code", "/callback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubAPI{}, passAll).Handler()
			rec := do(t, h, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), `"detail"`)
		})
	}
}

func TestCallback_BindsCode(t *testing.T) {
	api := &stubAPI{}
	h := newTestServer(api, denyAll).Handler()

	rec := do(t, h, http.MethodGet, "/callback?code=xyz")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "xyz", api.callbackCode)
}

func TestAuthOnly(t *testing.T) {
	h := newTestServer(&stubAPI{}, denyAll).Handler()

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/files", http.StatusUnauthorized},
		{http.MethodPost, "/files", http.StatusUnauthorized},
		{http.MethodGet, "/health/live", http.StatusOK},
		{http.MethodGet, "/health/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/login", http.StatusFound},
		{http.MethodGet, "/logout", http.StatusFound},
		{http.MethodGet, "/", http.StatusFound},
		{http.MethodGet, "/api/docs/openapi.json", http.StatusOK},
		{http.MethodGet, "/filesystem", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, h, tt.method, tt.target).Code)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&stubAPI{}, passAll).Handler()
	rec := do(t, h, http.MethodDelete, "/files")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	srv := newTestServer(&stubAPI{}, passAll)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("сервер не остановился")
	}
}
