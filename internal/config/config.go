// Пакет config — загрузка и валидация конфигурации Frost Shard
// из переменных окружения.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Длина секретного ключа симметричного шифрования в байтах.
const SecretKeySize = 32

// Config содержит все параметры конфигурации Frost Shard.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int `validate:"min=1,max=65535"`
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string `validate:"oneof=json text"`
	// Режим отладки: cookie с токеном выдаётся без флага Secure
	Debug bool
	// Внешний URL приложения, используется в redirect_uri и returnTo
	AppBaseURL string `validate:"required,url"`
	// Максимальный размер multipart-запроса на загрузку файлов
	MaxUploadSize int64 `validate:"gt=0"`

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration `validate:"gt=0"`
	HTTPWriteTimeout time.Duration `validate:"gt=0"`
	HTTPIdleTimeout  time.Duration `validate:"gt=0"`

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration `validate:"gt=0"`

	// --- Identity provider ---

	// Issuer токенов, например https://tenant.eu.auth0.com/
	AuthIssuerURL string `validate:"required,url"`
	// Client ID приложения у провайдера
	ClientID string `validate:"required"`
	// Client Secret приложения у провайдера
	ClientSecret string `validate:"required"`
	// Ожидаемый audience токенов
	Audience string `validate:"required"`
	// Разрешённые алгоритмы подписи
	Algorithms []string `validate:"required,min=1,dive,oneof=RS256 RS384 RS512 ES256 ES384 ES512 PS256 PS384 PS512 EdDSA"`
	// Пространство имён custom claims (email, roles, permissions)
	ClaimsNamespace string `validate:"required"`
	// Имя cookie с bearer token
	TokenCookieName string `validate:"required"`
	// Время жизни cookie с токеном
	TokenCookieMaxAge time.Duration `validate:"gt=0"`

	// --- JWKS ---

	// Интервал обновления набора ключей (по умолчанию 30s)
	JWKSRefreshInterval time.Duration `validate:"gt=0"`
	// Максимальный возраст набора ключей, после которого он считается пустым (0 — без ограничения)
	JWKSHardTTL time.Duration `validate:"omitempty,gtfield=JWKSRefreshInterval"`
	// Таймаут HTTP-клиента JWKS и token endpoint
	JWKSClientTimeout time.Duration `validate:"gt=0"`
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration `validate:"gte=0"`

	// --- Обмен authorization code ---

	// Максимальное количество попыток обмена code → token
	TokenExchangeMaxAttempts int `validate:"min=1"`
	// Общий бюджет времени на обмен code → token
	TokenExchangeMaxElapsed time.Duration `validate:"gt=0"`

	// --- Шифрование ---

	// Секретный ключ (32 байта, в окружении задаётся в base64)
	SecretKey []byte `validate:"len=32"`

	// --- PostgreSQL ---

	DBHost     string `validate:"required"`
	DBPort     int    `validate:"min=1,max=65535"`
	DBName     string `validate:"required"`
	DBUser     string `validate:"required"`
	DBPassword string `validate:"required"`
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string `validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// --- Объектное хранилище (S3-совместимое) ---

	S3Bucket string `validate:"required"`
	S3Region string `validate:"required"`
	// Кастомный endpoint (MinIO и т.п.), пустой — AWS
	S3Endpoint        string `validate:"omitempty,url"`
	S3AccessKeyID     string
	S3SecretAccessKey string
	// Время жизни presigned URL (по умолчанию 60s)
	S3PresignTTL time.Duration `validate:"gt=0"`

	// --- Кэш расшифрованных ключей хранилища ---

	KeyCacheSize int           `validate:"min=1"`
	KeyCacheTTL  time.Duration `validate:"gt=0"`

	// --- topologymetrics ---

	DephealthGroup         string        `validate:"required"`
	DephealthCheckInterval time.Duration `validate:"gt=0"`
	DephealthIsEntry       bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FS_PORT — порт HTTP-сервера (по умолчанию 8000)
	if cfg.Port, err = getEnvInt("FS_PORT", 8000); err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}

	// FS_LOG_LEVEL — уровень логирования (по умолчанию info)
	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	// FS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")

	if cfg.Debug, err = getEnvBool("FS_DEBUG", false); err != nil {
		return nil, fmt.Errorf("FS_DEBUG: %w", err)
	}

	cfg.AppBaseURL = strings.TrimSuffix(getEnvDefault("FS_APP_BASE_URL", "http://localhost:8000"), "/")

	maxUpload, err := getEnvInt("FS_MAX_UPLOAD_SIZE", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("FS_MAX_UPLOAD_SIZE: %w", err)
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("FS_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FS_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FS_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FS_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("FS_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Identity provider ---

	if cfg.AuthIssuerURL, err = getEnvRequired("FS_AUTH_ISSUER_URL"); err != nil {
		return nil, err
	}
	if cfg.ClientID, err = getEnvRequired("FS_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.ClientSecret, err = getEnvRequired("FS_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	if cfg.Audience, err = getEnvRequired("FS_AUDIENCE"); err != nil {
		return nil, err
	}
	cfg.Algorithms = getEnvList("FS_ALGORITHMS", []string{"RS256"})
	cfg.ClaimsNamespace = getEnvDefault("FS_CLAIMS_NAMESPACE", "https://frost-shard/claims")
	cfg.TokenCookieName = getEnvDefault("FS_TOKEN_COOKIE_NAME", "access_token")
	if cfg.TokenCookieMaxAge, err = getEnvDuration("FS_TOKEN_COOKIE_MAX_AGE", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("FS_TOKEN_COOKIE_MAX_AGE: %w", err)
	}

	// --- JWKS ---

	if cfg.JWKSRefreshInterval, err = getEnvDuration("FS_JWKS_REFRESH_INTERVAL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSHardTTL, err = getEnvDuration("FS_JWKS_HARD_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("FS_JWKS_HARD_TTL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("FS_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("FS_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FS_JWT_LEEWAY: %w", err)
	}

	// --- Обмен authorization code ---

	if cfg.TokenExchangeMaxAttempts, err = getEnvInt("FS_TOKEN_EXCHANGE_MAX_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("FS_TOKEN_EXCHANGE_MAX_ATTEMPTS: %w", err)
	}
	if cfg.TokenExchangeMaxElapsed, err = getEnvDuration("FS_TOKEN_EXCHANGE_MAX_ELAPSED", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FS_TOKEN_EXCHANGE_MAX_ELAPSED: %w", err)
	}

	// --- Шифрование ---

	rawKey, err := getEnvRequired("FS_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	if cfg.SecretKey, err = parseSecretKey(rawKey); err != nil {
		return nil, fmt.Errorf("FS_SECRET_KEY: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("FS_DB_HOST", "localhost")
	if cfg.DBPort, err = getEnvInt("FS_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("FS_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FS_DB_NAME", "frost_shard")
	cfg.DBUser = getEnvDefault("FS_DB_USER", "frost_shard")
	if cfg.DBPassword, err = getEnvRequired("FS_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FS_DB_SSL_MODE", "disable")

	// --- Объектное хранилище ---

	if cfg.S3Bucket, err = getEnvRequired("FS_S3_BUCKET"); err != nil {
		return nil, err
	}
	cfg.S3Region = getEnvDefault("FS_S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvDefault("FS_S3_ENDPOINT", "")
	cfg.S3AccessKeyID = getEnvDefault("FS_S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnvDefault("FS_S3_SECRET_ACCESS_KEY", "")
	if cfg.S3PresignTTL, err = getEnvDuration("FS_S3_PRESIGN_TTL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FS_S3_PRESIGN_TTL: %w", err)
	}

	// --- Кэш ключей хранилища ---

	if cfg.KeyCacheSize, err = getEnvInt("FS_KEY_CACHE_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("FS_KEY_CACHE_SIZE: %w", err)
	}
	if cfg.KeyCacheTTL, err = getEnvDuration("FS_KEY_CACHE_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("FS_KEY_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FS_DEPHEALTH_GROUP", "frost-shard")
	if cfg.DephealthCheckInterval, err = getEnvDuration("FS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false); err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет значения по тегам validate.
// Возвращает первое нарушенное правило в формате "Поле: правило".
func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("некорректная конфигурация: %s: нарушено правило %q", verrs[0].Namespace(), verrs[0].Tag())
	}
	return fmt.Errorf("некорректная конфигурация: %w", err)
}

// IssuerBaseURL возвращает issuer без завершающего слэша,
// используется как база для /authorize, /logout, /oauth/token и JWKS.
func (c *Config) IssuerBaseURL() string {
	return strings.TrimSuffix(c.AuthIssuerURL, "/")
}

// JWKSURL возвращает URL набора публичных ключей провайдера.
func (c *Config) JWKSURL() string {
	return c.IssuerBaseURL() + "/.well-known/jwks.json"
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL.
// scheme — "postgres" для метрик topologymetrics, "pgx5" для golang-migrate.
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// parseSecretKey декодирует base64-ключ и проверяет длину.
func parseSecretKey(raw string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("ключ должен быть закодирован в base64")
		}
	}
	if len(key) != SecretKeySize {
		return nil, fmt.Errorf("длина ключа %d байт, требуется %d", len(key), SecretKeySize)
	}
	return key, nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
