// files.go — доменный сервис файлов.
// Email владельца хранится только в зашифрованном виде, поэтому фильтрация
// по email выполняется расшифровкой каждой строки после выборки по датам.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/tobiaxs/frost-shard/internal/auth"
	"github.com/tobiaxs/frost-shard/internal/cryptobox"
	"github.com/tobiaxs/frost-shard/internal/domain/model"
	"github.com/tobiaxs/frost-shard/internal/repository"
	"github.com/tobiaxs/frost-shard/internal/storage"
)

// ErrNoFiles — пакетная загрузка без файлов.
var ErrNoFiles = errors.New("не передано ни одного файла")

var (
	filesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_files_created_total",
		Help: "Созданные записи файлов (по способу создания).",
	}, []string{"mode"})

	collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_collect_duration_seconds",
		Help:    "Длительность выборки файлов с сопоставлением хранилища.",
		Buckets: prometheus.DefBuckets,
	})
)

// FileCreate — данные для создания записи.
type FileCreate struct {
	// Date — дата файла; nil — текущая дата UTC
	Date *time.Time
}

// Upload — содержимое одного загружаемого файла.
type Upload struct {
	Filename string
	Data     []byte
}

// FileFilters — фильтры выборки. Границы дат строгие.
type FileFilters struct {
	// Email — чьи файлы выбирать; пустой — файлы вызывающего
	Email  string
	After  *time.Time
	Before *time.Time
}

// LogValue реализует slog.LogValuer.
func (f FileFilters) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("email", f.Email)}
	if f.After != nil {
		attrs = append(attrs, slog.String("date__gt", f.After.Format(model.DateLayout)))
	}
	if f.Before != nil {
		attrs = append(attrs, slog.String("date__lt", f.Before.Format(model.DateLayout)))
	}
	return slog.GroupValue(attrs...)
}

// FileService — создание и выборка файлов.
type FileService struct {
	repo       repository.FileRepository
	store      storage.ObjectStore
	box        *cryptobox.Box
	keys       *KeyCodec
	reconciler *Reconciler
	now        func() time.Time
	logger     *slog.Logger
}

// NewFileService создаёт доменный сервис файлов.
func NewFileService(
	repo repository.FileRepository,
	store storage.ObjectStore,
	box *cryptobox.Box,
	keys *KeyCodec,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repo:       repo,
		store:      store,
		box:        box,
		keys:       keys,
		reconciler: NewReconciler(keys, store, logger),
		now:        time.Now,
		logger:     logger.With(slog.String("component", "file_service")),
	}
}

// Create создаёт запись файла вызывающего.
func (s *FileService) Create(ctx context.Context, identity auth.Identity, in FileCreate) (*model.FileRecord, error) {
	rec, err := s.create(ctx, identity, in)
	if err != nil {
		s.logger.Error("Ошибка создания файла", slog.Any("identity", identity), slog.String("error", err.Error()))
		return nil, err
	}
	filesCreatedTotal.WithLabelValues("single").Inc()
	return rec, nil
}

// BulkCreate создаёт запись и объект хранилища для каждого файла.
// Загрузки выполняются параллельно; первая ошибка отменяет остальные.
// Уже созданные записи не откатываются: без объекта в хранилище
// они не попадут в выборку.
func (s *FileService) BulkCreate(ctx context.Context, identity auth.Identity, in FileCreate, uploads []Upload) ([]*model.FileRecord, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	records := make([]*model.FileRecord, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i, up := range uploads {
		g.Go(func() error {
			rec, err := s.create(gctx, identity, in)
			if err != nil {
				return err
			}
			key, err := s.keys.Build(identity.Email(), rec.Date, rec.ID, up.Filename)
			if err != nil {
				return err
			}
			if err := s.store.Put(gctx, key, up.Data); err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Ошибка пакетной загрузки",
			slog.Any("identity", identity),
			slog.Int("files", len(uploads)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	filesCreatedTotal.WithLabelValues("upload").Add(float64(len(records)))
	s.logger.Info("Файлы загружены", slog.Any("identity", identity), slog.Int("files", len(records)))
	return records, nil
}

func (s *FileService) create(ctx context.Context, identity auth.Identity, in FileCreate) (*model.FileRecord, error) {
	encrypted, err := s.box.Encrypt([]byte(identity.Email()))
	if err != nil {
		return nil, fmt.Errorf("шифрование email: %w", err)
	}

	date := s.now()
	if in.Date != nil {
		date = *in.Date
	}

	rec := &model.FileRecord{
		ID:             uuid.New(),
		EncryptedEmail: encrypted,
		Date:           model.TruncateDate(date.UTC()),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Collect возвращает страницу файлов, найденных в хранилище.
//
// Pipeline:
//  1. Эффективный email: фильтр или email вызывающего. Чужой email
//     требует READ_GLOBAL_FILES или роли ADMIN.
//  2. Ленивая выборка по датам из БД
//  3. Расшифровка email каждой строки и сравнение
//  4. Окно страницы
//  5. Сопоставление с листингом хранилища
func (s *FileService) Collect(ctx context.Context, identity auth.Identity, filters FileFilters, page PaginationParams) ([]model.DecryptedFileRecord, error) {
	start := time.Now()
	defer func() { collectDuration.Observe(time.Since(start).Seconds()) }()

	result, err := s.collect(ctx, identity, filters, page)
	if err != nil {
		s.logger.Error("Ошибка выборки файлов",
			slog.Any("identity", identity),
			slog.Any("filters", filters),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return result, nil
}

func (s *FileService) collect(ctx context.Context, identity auth.Identity, filters FileFilters, page PaginationParams) ([]model.DecryptedFileRecord, error) {
	email := identity.Email()
	if filters.Email != "" && filters.Email != email {
		if !identity.HasPermission(auth.PermissionReadGlobalFiles) && !identity.HasRole(auth.RoleAdmin) {
			return nil, auth.ErrPermissions
		}
		email = filters.Email
	}

	var streamErr error
	owned := s.ownedBy(ctx, email, repository.DateFilter{After: filters.After, Before: filters.Before}, &streamErr)
	records := slices.Collect(Paginate(owned, page.Page, page.Limit))
	if streamErr != nil {
		return nil, streamErr
	}
	if len(records) == 0 {
		return []model.DecryptedFileRecord{}, nil
	}

	objectKeys, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, records, objectKeys)
}

// ownedBy фильтрует поток записей по расшифрованному email.
// Первая ошибка сохраняется в errp и завершает поток.
func (s *FileService) ownedBy(ctx context.Context, email string, filter repository.DateFilter, errp *error) iter.Seq[*model.FileRecord] {
	return func(yield func(*model.FileRecord) bool) {
		for rec, err := range s.repo.Stream(ctx, filter) {
			if err != nil {
				*errp = err
				return
			}
			plain, err := s.box.Decrypt(rec.EncryptedEmail)
			if err != nil {
				*errp = fmt.Errorf("email файла %s: %w", rec.ID, err)
				return
			}
			if string(plain) != email {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
