// flow.go — Authorization Code Flow с identity provider:
// redirect на /authorize и /logout, обмен code на access token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
)

// FlowConfig — параметры AuthorizationFlow.
type FlowConfig struct {
	// IssuerBaseURL — базовый URL провайдера без завершающего слэша.
	IssuerBaseURL string
	// AppBaseURL — внешний URL приложения без завершающего слэша.
	AppBaseURL   string
	ClientID     string
	ClientSecret string
	Audience     string
	// HTTPClient — клиент для token endpoint (nil — http.DefaultClient).
	HTTPClient *http.Client
	// MaxAttempts — максимальное количество попыток обмена (включая первую).
	MaxAttempts int
	// MaxElapsed — общий бюджет времени на обмен.
	MaxElapsed time.Duration
}

// AuthorizationFlow строит redirect URL и обменивает authorization code на токен.
type AuthorizationFlow struct {
	oauth           oauth2.Config
	logoutURL       string
	appBaseURL      string
	audience        string
	client          *http.Client
	maxAttempts     int
	maxElapsed      time.Duration
	initialInterval time.Duration
	logger          *slog.Logger
}

// NewAuthorizationFlow создаёт AuthorizationFlow.
func NewAuthorizationFlow(cfg FlowConfig, logger *slog.Logger) *AuthorizationFlow {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &AuthorizationFlow{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.IssuerBaseURL + "/authorize",
				TokenURL:  cfg.IssuerBaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.AppBaseURL + "/callback",
		},
		logoutURL:       cfg.IssuerBaseURL + "/logout",
		appBaseURL:      cfg.AppBaseURL,
		audience:        cfg.Audience,
		client:          client,
		maxAttempts:     attempts,
		maxElapsed:      cfg.MaxElapsed,
		initialInterval: backoff.DefaultInitialInterval,
		logger:          logger.With(slog.String("component", "authorization_flow")),
	}
}

// AuthorizeURL возвращает URL страницы входа провайдера.
func (f *AuthorizationFlow) AuthorizeURL() string {
	return f.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("audience", f.audience))
}

// LogoutURL возвращает URL выхода, после которого провайдер вернёт пользователя в приложение.
func (f *AuthorizationFlow) LogoutURL() string {
	params := url.Values{
		"returnTo":  {f.appBaseURL},
		"client_id": {f.oauth.ClientID},
	}
	return f.logoutURL + "?" + params.Encode()
}

// ExchangeCode обменивает authorization code на access token.
// Повторяет запрос с экспоненциальной задержкой только при ошибках
// соединения. Ответ с ошибочным статусом или без access_token
// завершает обмен сразу. Все ошибки оборачивают ErrUpstreamAuth.
func (f *AuthorizationFlow) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: пустой authorization code", ErrUpstreamAuth)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.initialInterval
	exp.MaxElapsedTime = f.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.maxAttempts-1)), ctx)

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, f.client)
	attempt := 0
	var accessToken string

	operation := func() error {
		attempt++
		token, err := f.oauth.Exchange(httpCtx, code, oauth2.SetAuthURLParam("audience", f.audience))
		if err != nil {
			var urlErr *url.Error
			if errors.As(err, &urlErr) && ctx.Err() == nil {
				f.logger.Warn("Token endpoint недоступен, повтор",
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		accessToken = token.AccessToken
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstreamAuth, err)
	}
	return accessToken, nil
}
