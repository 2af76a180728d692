// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// Frost Shard проверяет:
//   - PostgreSQL — pgcheck через существующий pgxpool (critical)
//   - провайдер идентификации — HTTP checker к JWKS endpoint (critical)
//   - объектное хранилище — HTTP checker к MinIO liveness (только кастомный endpoint)
//
// Метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// minioHealthPath — liveness endpoint MinIO.
const minioHealthPath = "/minio/health/live"

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	ServiceID string
	Group     string
	// DB — *sql.DB поверх pgxpool (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PostgresURL — URL базы для лейблов метрик, не для подключения
	PostgresURL   string
	IssuerJWKSURL string
	// StorageURL — кастомный endpoint хранилища; пустой — хранилище не проверяется
	StorageURL    string
	CheckInterval time.Duration
	IsEntry       bool
}

// DephealthService — обёртка над dephealth.DepHealth.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис с глобальным Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с отдельным registerer (для тестов).
func NewDephealthServiceWithRegisterer(cfg DephealthConfig, logger *slog.Logger, registerer prometheus.Registerer) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	withEntry := func(opts []dephealth.DependencyOption) []dephealth.DependencyOption {
		if cfg.IsEntry {
			opts = append(opts, dephealth.WithLabel("isentry", "yes"))
		}
		return opts
	}

	pgOpts := withEntry([]dephealth.DependencyOption{
		dephealth.FromURL(cfg.PostgresURL),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	})

	issuerOpts := withEntry([]dephealth.DependencyOption{
		dephealth.FromURL(cfg.IssuerJWKSURL),
		dephealth.WithHTTPHealthPath(healthPath(cfg.IssuerJWKSURL, "/.well-known/jwks.json")),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	})

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)), pgOpts...),
		dephealth.HTTP("identity-provider", issuerOpts...),
	}

	if cfg.StorageURL != "" {
		storageOpts := withEntry([]dephealth.DependencyOption{
			dephealth.FromURL(cfg.StorageURL),
			dephealth.WithHTTPHealthPath(minioHealthPath),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(false),
		})
		opts = append(opts, dephealth.HTTP("object-storage", storageOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath берёт path из URL зависимости, иначе fallback.
func healthPath(rawURL, fallback string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return fallback
}

// Start запускает периодические проверки.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}
