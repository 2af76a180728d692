// jwks.go — кэш публичных ключей подписи identity provider.
// Обновление выполняется при поиске ключа, если наступил refreshAt.
// Состояние заменяется целиком через atomic.Pointer, без блокировок:
// две конкурентные проверки могут выполнить двойную загрузку.
package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxJWKSBodySize ограничивает размер ответа JWKS endpoint.
const maxJWKSBodySize = 1 << 20

// Prometheus-метрики обновления ключей.
var jwksRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fs_jwks_refresh_total",
		Help: "Количество загрузок набора ключей подписи по результату.",
	},
	[]string{"result"},
)

// keySet — неизменяемый снимок набора ключей.
type keySet struct {
	keys      map[string]jwkset.JWK
	fetchedAt time.Time
	refreshAt time.Time
}

// SigningKeyCache хранит последний успешно загруженный набор ключей.
type SigningKeyCache struct {
	url             string
	client          *http.Client
	refreshInterval time.Duration
	hardTTL         time.Duration
	now             func() time.Time
	state           atomic.Pointer[keySet]
	logger          *slog.Logger
}

// NewSigningKeyCache создаёт кэш ключей.
// refreshInterval — через сколько после успешной загрузки ключи загружаются снова.
// hardTTL — возраст набора, после которого он считается пустым (0 — без ограничения).
func NewSigningKeyCache(jwksURL string, client *http.Client, refreshInterval, hardTTL time.Duration, logger *slog.Logger) *SigningKeyCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SigningKeyCache{
		url:             jwksURL,
		client:          client,
		refreshInterval: refreshInterval,
		hardTTL:         hardTTL,
		now:             time.Now,
		logger:          logger.With(slog.String("component", "jwks_cache")),
	}
}

// Lookup возвращает ключ по kid. Отсутствие ключа не является ошибкой:
// решение принимает вызывающая сторона.
// Неудачная загрузка оставляет прежний набор и не сдвигает refreshAt,
// поэтому следующий поиск снова попробует загрузить ключи.
func (c *SigningKeyCache) Lookup(ctx context.Context, kid string) (jwkset.JWK, bool) {
	now := c.now()
	st := c.state.Load()

	if st == nil || !now.Before(st.refreshAt) {
		keys, err := c.fetch(ctx)
		if err != nil {
			jwksRefreshTotal.WithLabelValues("error").Inc()
			c.logger.Warn("Ошибка обновления JWKS",
				slog.String("url", c.url),
				slog.String("error", err.Error()),
			)
		} else {
			jwksRefreshTotal.WithLabelValues("ok").Inc()
			st = &keySet{keys: keys, fetchedAt: now, refreshAt: now.Add(c.refreshInterval)}
			c.state.Store(st)
			c.logger.Debug("Набор ключей JWKS обновлён", slog.Int("keys", len(keys)))
		}
	}

	if st == nil {
		return jwkset.JWK{}, false
	}
	if c.hardTTL > 0 && now.Sub(st.fetchedAt) >= c.hardTTL {
		return jwkset.JWK{}, false
	}

	key, ok := st.keys[kid]
	return key, ok
}

// fetch загружает полный набор ключей одним HTTP-запросом.
// Ключи, которые не удалось разобрать, пропускаются.
func (c *SigningKeyCache) fetch(ctx context.Context) (map[string]jwkset.JWK, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	resp, err := c.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS вернул статус %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа JWKS: %w", err)
	}

	var raw jwkset.JWKSMarshal
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("разбор JWKS: %w", err)
	}

	keys := make(map[string]jwkset.JWK, len(raw.Keys))
	for _, m := range raw.Keys {
		if m.KID == "" {
			continue
		}
		key, err := jwkset.NewJWKFromMarshal(m, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil {
			c.logger.Debug("Ключ JWKS пропущен",
				slog.String("kid", m.KID),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[m.KID] = key
	}
	return keys, nil
}
