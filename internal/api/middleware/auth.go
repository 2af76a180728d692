// auth.go — аутентификация запросов bearer-токеном провайдера.
// Токен берётся из cookie, затем из заголовка Authorization.
// Проверка подписи и вычисление Identity — в auth.IdentityResolver.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/tobiaxs/frost-shard/internal/api/errors"
	"github.com/tobiaxs/frost-shard/internal/auth"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const contextKeyIdentity contextKey = "identity"

// IdentityResolver — вычисление Identity из сырого токена.
// Реализуется auth.IdentityResolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, rawToken string) (auth.Identity, error)
}

// Authenticator — middleware аутентификации.
type Authenticator struct {
	resolver   IdentityResolver
	cookieName string
	logger     *slog.Logger
}

// NewAuthenticator создаёт middleware. cookieName — имя cookie с токеном.
func NewAuthenticator(resolver IdentityResolver, cookieName string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		resolver:   resolver,
		cookieName: cookieName,
		logger:     logger.With(slog.String("component", "authenticator")),
	}
}

// Middleware кладёт Identity в контекст или отвечает 401.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.resolver.Resolve(r.Context(), a.token(r))
			if err != nil {
				if errors.Is(err, auth.ErrAuthentication) {
					a.logger.Debug("Аутентификация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
					apierrors.Unauthorized(w, err.Error())
					return
				}
				a.logger.Error("Ошибка проверки токена", slog.String("error", err.Error()))
				apierrors.InternalError(w, "Внутренняя ошибка аутентификации")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// token извлекает токен: cookie имеет приоритет над Authorization.
func (a *Authenticator) token(r *http.Request) string {
	if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithIdentity возвращает контекст с Identity.
func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext извлекает Identity из контекста запроса.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(auth.Identity)
	return identity, ok
}
