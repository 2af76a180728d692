// auth.go — вход и выход через identity provider.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tobiaxs/frost-shard/internal/api/generated"
)

// Login перенаправляет на /authorize провайдера.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.flow.AuthorizeURL(), http.StatusFound)
}

// Callback обменивает code на токен, сохраняет его в cookie
// и перенаправляет на корень приложения.
func (h *APIHandler) Callback(w http.ResponseWriter, r *http.Request, params generated.CallbackParams) {
	token, err := h.flow.ExchangeCode(r.Context(), params.Code)
	if err != nil {
		h.logger.Error("Ошибка обмена authorization code", slog.String("error", err.Error()))
		h.writeServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookie.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout удаляет cookie и перенаправляет на /logout провайдера.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, h.flow.LogoutURL(), http.StatusFound)
}
