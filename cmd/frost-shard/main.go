// Точка входа Frost Shard — сервиса зашифрованного учёта файлов.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и объектному хранилищу, поднимает проверку токенов провайдера,
// доменный сервис файлов, topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/tobiaxs/frost-shard/internal/api"
	"github.com/tobiaxs/frost-shard/internal/api/handlers"
	"github.com/tobiaxs/frost-shard/internal/api/middleware"
	"github.com/tobiaxs/frost-shard/internal/auth"
	"github.com/tobiaxs/frost-shard/internal/config"
	"github.com/tobiaxs/frost-shard/internal/cryptobox"
	"github.com/tobiaxs/frost-shard/internal/database"
	"github.com/tobiaxs/frost-shard/internal/repository"
	"github.com/tobiaxs/frost-shard/internal/server"
	"github.com/tobiaxs/frost-shard/internal/service"
	"github.com/tobiaxs/frost-shard/internal/storage"
)

func main() {
	// 1. Конфигурация из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Frost Shard запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)
	if cfg.Debug {
		logger.Warn("Включён debug-режим: cookie с токеном выдаётся без флага Secure")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Миграции и подключение к PostgreSQL
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Проверки topologymetrics идут через тот же пул соединений
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 4. Шифрование
	box, err := cryptobox.New(cfg.SecretKey)
	if err != nil {
		logger.Error("Ошибка инициализации шифрования", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Объектное хранилище
	s3cfg := storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PresignTTL:      cfg.S3PresignTTL,
	}
	store, err := storage.NewS3Store(ctx, s3cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Проверка токенов провайдера
	idpClient := &http.Client{Timeout: cfg.JWKSClientTimeout}
	keyCache := auth.NewSigningKeyCache(cfg.JWKSURL(), idpClient, cfg.JWKSRefreshInterval, cfg.JWKSHardTTL, logger)
	verifier := auth.NewTokenVerifier(keyCache, cfg.AuthIssuerURL, cfg.Audience, cfg.Algorithms, cfg.JWTLeeway)
	resolver := auth.NewIdentityResolver(verifier, cfg.ClaimsNamespace, logger)
	flow := auth.NewAuthorizationFlow(auth.FlowConfig{
		IssuerBaseURL: cfg.IssuerBaseURL(),
		AppBaseURL:    cfg.AppBaseURL,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		Audience:      cfg.Audience,
		HTTPClient:    idpClient,
		MaxAttempts:   cfg.TokenExchangeMaxAttempts,
		MaxElapsed:    cfg.TokenExchangeMaxElapsed,
	}, logger)
	logger.Info("Проверка токенов инициализирована",
		slog.String("jwks_url", cfg.JWKSURL()),
		slog.String("issuer", cfg.AuthIssuerURL),
	)

	// 7. Доменный сервис файлов
	keys := service.NewKeyCodec(box, cfg.KeyCacheSize, cfg.KeyCacheTTL)
	files := service.NewFileService(repository.NewFileRepository(pool), store, box, keys, logger)

	// 8. topologymetrics — мониторинг зависимостей
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "frost-shard",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL("postgres"),
		IssuerJWKSURL: cfg.JWKSURL(),
		StorageURL:    cfg.S3Endpoint,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. Handlers
	specJSON, err := api.SpecJSON()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-документа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		auth.NewIssuerReadinessChecker(cfg.JWKSURL(), cfg.JWKSClientTimeout),
		store,
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		flow,
		files,
		handlers.CookieConfig{
			Name:   cfg.TokenCookieName,
			MaxAge: cfg.TokenCookieMaxAge,
			Secure: !cfg.Debug,
		},
		cfg.MaxUploadSize,
		specJSON,
		logger,
	)

	// 10. HTTP-сервер: метрики, access log, очистка query, аутентификация /files
	authenticator := middleware.NewAuthenticator(resolver, cfg.TokenCookieName, logger)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		middleware.DropEmptyQuery,
		server.AuthOnly(authenticator.Middleware(), "/files"),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Frost Shard остановлен")
}
