// handler.go — APIHandler, реализация generated.ServerInterface.
// Делегирует запросы в auth.AuthorizationFlow и service.FileService.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	apierrors "github.com/tobiaxs/frost-shard/internal/api/errors"
	"github.com/tobiaxs/frost-shard/internal/api/generated"
	"github.com/tobiaxs/frost-shard/internal/auth"
	"github.com/tobiaxs/frost-shard/internal/domain/model"
	"github.com/tobiaxs/frost-shard/internal/service"
)

var _ generated.ServerInterface = (*APIHandler)(nil)

// LoginFlow — authorization code flow провайдера.
type LoginFlow interface {
	AuthorizeURL() string
	LogoutURL() string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// FileService — операции доменного сервиса файлов.
type FileService interface {
	Create(ctx context.Context, identity auth.Identity, in service.FileCreate) (*model.FileRecord, error)
	BulkCreate(ctx context.Context, identity auth.Identity, in service.FileCreate, uploads []service.Upload) ([]*model.FileRecord, error)
	Collect(ctx context.Context, identity auth.Identity, filters service.FileFilters, page service.PaginationParams) ([]model.DecryptedFileRecord, error)
}

// CookieConfig — параметры cookie с токеном.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	// Secure выключается только в debug-режиме (локальный HTTP)
	Secure bool
}

// APIHandler — обработчик API Frost Shard.
type APIHandler struct {
	health        *HealthHandler
	flow          LoginFlow
	files         FileService
	cookie        CookieConfig
	maxUploadSize int64
	specJSON      []byte
	validate      *validator.Validate
	logger        *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
// specJSON — OpenAPI-документ для /api/docs/openapi.json.
func NewAPIHandler(
	health *HealthHandler,
	flow LoginFlow,
	files FileService,
	cookie CookieConfig,
	maxUploadSize int64,
	specJSON []byte,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		flow:          flow,
		files:         files,
		cookie:        cookie,
		maxUploadSize: maxUploadSize,
		specJSON:      specJSON,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Документ API ---

// Root перенаправляет на документ API.
func (h *APIHandler) Root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/api/docs/openapi.json", http.StatusFound)
}

// GetOpenAPI отдаёт OpenAPI-документ.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.specJSON)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError переводит ошибку домена в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrPermissions):
		apierrors.Forbidden(w, auth.ErrPermissions.Error())
	case errors.Is(err, auth.ErrAuthentication):
		apierrors.Unauthorized(w, err.Error())
	case errors.Is(err, auth.ErrUpstreamAuth):
		apierrors.UpstreamUnavailable(w, "Identity provider не выдал токен")
	case errors.Is(err, service.ErrNoFiles):
		apierrors.ValidationError(w, err.Error())
	default:
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
