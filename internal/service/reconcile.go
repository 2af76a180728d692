package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tobiaxs/frost-shard/internal/domain/model"
	"github.com/tobiaxs/frost-shard/internal/storage"
)

var reconcileUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fs_reconcile_unmatched_total",
	Help: "Записи метаданных, для которых не найден объект в хранилище.",
})

// Reconciler сопоставляет записи метаданных с листингом хранилища
// по расшифрованному id в имени объекта.
type Reconciler struct {
	keys   *KeyCodec
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewReconciler создаёт Reconciler.
func NewReconciler(keys *KeyCodec, store storage.ObjectStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		keys:   keys,
		store:  store,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile возвращает найденные в хранилище записи в порядке records.
// Просмотр листинга прекращается, когда найдены все id.
// Ключи чужой схемы пропускаются, ошибка расшифровки возвращается.
func (r *Reconciler) Reconcile(ctx context.Context, records []*model.FileRecord, objectKeys []string) ([]model.DecryptedFileRecord, error) {
	if len(records) == 0 {
		return []model.DecryptedFileRecord{}, nil
	}

	pending := make(map[uuid.UUID]int, len(records))
	for i, rec := range records {
		pending[rec.ID] = i
	}
	found := make([]*model.DecryptedFileRecord, len(records))

	for _, key := range objectKeys {
		if len(pending) == 0 {
			break
		}

		parsed, err := r.keys.Parse(key)
		if errors.Is(err, errMalformedKey) {
			r.logger.Warn("Объект пропущен: ключ не соответствует схеме", slog.String("key", key))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("разбор ключа %q: %w", key, err)
		}

		idx, ok := pending[parsed.ID]
		if !ok {
			continue
		}
		url, err := r.store.URLFor(ctx, key)
		if err != nil {
			return nil, err
		}
		found[idx] = &model.DecryptedFileRecord{ID: parsed.ID, Date: parsed.Date, URL: url}
		delete(pending, parsed.ID)
	}

	if len(pending) > 0 {
		reconcileUnmatchedTotal.Add(float64(len(pending)))
		r.logger.Debug("Записи без объекта в хранилище", slog.Int("count", len(pending)))
	}

	result := make([]model.DecryptedFileRecord, 0, len(records)-len(pending))
	for _, rec := range found {
		if rec != nil {
			result = append(result, *rec)
		}
	}
	return result, nil
}
