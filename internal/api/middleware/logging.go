// logging.go — access log входящих HTTP-запросов через slog.
// Значения параметров с персональными данными и секретами (email,
// authorization code) в лог не попадают.
package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// redactedValue заменяет значения чувствительных параметров.
const redactedValue = "[REDACTED]"

// sensitiveParams — параметры query string, значения которых скрываются.
var sensitiveParams = []string{"email", "code", "state"}

// statusRecorder запоминает статус и размер ответа для access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// RequestLogger пишет строку access log на каждый запрос.
// INFO до 3xx, WARN для 4xx, ERROR для 5xx.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "access_log"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.bytes),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if q := redactQuery(r.URL.Query()); q != "" {
				attrs = append(attrs, slog.String("query", q))
			}
			logger.LogAttrs(r.Context(), levelForStatus(rec.status), "HTTP запрос", attrs...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// redactQuery кодирует query string, заменяя значения чувствительных
// параметров на [REDACTED]. Фильтры дат и пагинации остаются как есть.
func redactQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	out := make(url.Values, len(query))
	for key, values := range query {
		if !slices.Contains(sensitiveParams, strings.ToLower(key)) {
			out[key] = values
			continue
		}
		masked := make([]string, len(values))
		for i := range masked {
			masked[i] = redactedValue
		}
		out[key] = masked
	}
	// url.Values.Encode экранирует скобки; для лога читаемее без этого
	encoded, err := url.QueryUnescape(out.Encode())
	if err != nil {
		return out.Encode()
	}
	return encoded
}
