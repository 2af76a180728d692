package repository

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/tobiaxs/frost-shard/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
const fileColumns = `id, email, date, created_at`

// DateFilter — фильтр по дате файла. Границы строгие, nil — не применяется.
type DateFilter struct {
	// After — date > After
	After *time.Time
	// Before — date < Before
	Before *time.Time
}

// FileRepository — интерфейс доступа к таблице files.
type FileRepository interface {
	// Create вставляет запись и заполняет CreatedAt.
	Create(ctx context.Context, rec *model.FileRecord) error
	// Stream лениво читает записи по фильтру в порядке (date, created_at, id).
	// Прекращение итерации закрывает курсор.
	Stream(ctx context.Context, filter DateFilter) iter.Seq2[*model.FileRecord, error]
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Create вставляет запись файла.
func (r *fileRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (id, email, date)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := r.db.QueryRow(ctx, query, rec.ID, rec.EncryptedEmail, rec.Date).Scan(&rec.CreatedAt); err != nil {
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

// Stream выполняет запрос и отдаёт строки по одной.
// Ошибка запроса или сканирования отдаётся последним элементом.
func (r *fileRepo) Stream(ctx context.Context, filter DateFilter) iter.Seq2[*model.FileRecord, error] {
	return func(yield func(*model.FileRecord, error) bool) {
		where, args := buildDateWhere(filter, 1)
		query := fmt.Sprintf(`SELECT %s FROM files %s ORDER BY date, created_at, id`, fileColumns, where)

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("ошибка выборки файлов: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			f := &model.FileRecord{}
			if err := rows.Scan(&f.ID, &f.EncryptedEmail, &f.Date, &f.CreatedAt); err != nil {
				yield(nil, fmt.Errorf("ошибка сканирования файла: %w", err))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("ошибка итерации результатов: %w", err))
		}
	}
}

// buildDateWhere строит WHERE-условие по датам.
// startArg — номер первого $-параметра.
func buildDateWhere(filter DateFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("date > $%d", argNum))
		args = append(args, model.TruncateDate(*filter.After))
		argNum++
	}

	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("date < $%d", argNum))
		args = append(args, model.TruncateDate(*filter.Before))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
