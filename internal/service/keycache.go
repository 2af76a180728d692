package service

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tobiaxs/frost-shard/internal/cryptobox"
	"github.com/tobiaxs/frost-shard/internal/domain/model"
)

// defaultExtension — расширение объекта, если у загруженного файла его нет.
const defaultExtension = "bin"

// errMalformedKey — ключ объекта не соответствует схеме <folder>/<file>.<ext>.
var errMalformedKey = errors.New("ключ объекта не соответствует схеме")

var (
	keyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_key_cache_hits_total",
		Help: "Попадания в кэш расшифрованных ключей хранилища.",
	})
	keyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_key_cache_misses_total",
		Help: "Промахи кэша расшифрованных ключей хранилища.",
	})
)

// ObjectKey — расшифрованное содержимое ключа объекта.
type ObjectKey struct {
	Email string
	Date  time.Time
	ID    uuid.UUID
}

// KeyCodec строит и разбирает ключи объектов:
//
//	<token(email:YYYY-MM-DD)>/<token(id)>.<ext>
//
// Токены — base64url от XChaCha20-Poly1305, поэтому не содержат '/' и '.'.
// Разобранные ключи кэшируются: шифротекст недетерминирован, а листинг
// повторяется на каждом запросе.
type KeyCodec struct {
	box   *cryptobox.Box
	cache *expirable.LRU[string, ObjectKey]
}

// NewKeyCodec создаёт кодек с LRU-кэшем разобранных ключей.
func NewKeyCodec(box *cryptobox.Box, cacheSize int, cacheTTL time.Duration) *KeyCodec {
	return &KeyCodec{
		box:   box,
		cache: expirable.NewLRU[string, ObjectKey](cacheSize, nil, cacheTTL),
	}
}

// Build возвращает новый ключ объекта для файла.
func (c *KeyCodec) Build(email string, date time.Time, id uuid.UUID, filename string) (string, error) {
	folder, err := c.box.EncryptToken(email + ":" + date.Format(model.DateLayout))
	if err != nil {
		return "", fmt.Errorf("шифрование папки: %w", err)
	}
	file, err := c.box.EncryptToken(id.String())
	if err != nil {
		return "", fmt.Errorf("шифрование имени файла: %w", err)
	}
	return folder + "/" + file + "." + extension(filename), nil
}

// Parse расшифровывает ключ объекта.
// errMalformedKey — ключ чужой схемы (в том числе сегменты, которые не могут
// быть шифротекстом), cryptobox.ErrDecryption — шифротекст, не прошедший
// проверку тега.
func (c *KeyCodec) Parse(key string) (ObjectKey, error) {
	if cached, ok := c.cache.Get(key); ok {
		keyCacheHitsTotal.Inc()
		return cached, nil
	}
	keyCacheMissesTotal.Inc()

	folder, file, ok := strings.Cut(key, "/")
	if !ok || folder == "" || strings.Contains(file, "/") {
		return ObjectKey{}, errMalformedKey
	}
	stem, _, ok := strings.Cut(file, ".")
	if !ok || stem == "" {
		return ObjectKey{}, errMalformedKey
	}

	plainFolder, err := c.box.DecryptToken(folder)
	if errors.Is(err, cryptobox.ErrNotCiphertext) {
		return ObjectKey{}, errMalformedKey
	}
	if err != nil {
		return ObjectKey{}, fmt.Errorf("папка %q: %w", folder, err)
	}
	plainID, err := c.box.DecryptToken(stem)
	if errors.Is(err, cryptobox.ErrNotCiphertext) {
		return ObjectKey{}, errMalformedKey
	}
	if err != nil {
		return ObjectKey{}, fmt.Errorf("файл %q: %w", stem, err)
	}

	// дата — последний сегмент, email может содержать ":"
	sep := strings.LastIndex(plainFolder, ":")
	if sep < 0 {
		return ObjectKey{}, errMalformedKey
	}
	date, err := time.Parse(model.DateLayout, plainFolder[sep+1:])
	if err != nil {
		return ObjectKey{}, errMalformedKey
	}
	id, err := uuid.Parse(plainID)
	if err != nil {
		return ObjectKey{}, errMalformedKey
	}

	parsed := ObjectKey{Email: plainFolder[:sep], Date: date, ID: id}
	c.cache.Add(key, parsed)
	return parsed, nil
}

// extension возвращает расширение имени файла в нижнем регистре.
// Допускаются только [a-z0-9], иначе defaultExtension.
func extension(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return defaultExtension
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExtension
		}
	}
	return ext
}
