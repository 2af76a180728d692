package service

import (
	"context"
	"crypto/rand"
	"io"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tobiaxs/frost-shard/internal/cryptobox"
	"github.com/tobiaxs/frost-shard/internal/domain/model"
	"github.com/tobiaxs/frost-shard/internal/repository"
)

// --- Mock repository ---

// mockFileRepo — in-memory FileRepository. Stream отдаёт записи в порядке
// вставки и считает прочитанные строки.
type mockFileRepo struct {
	mu       sync.Mutex
	records  []*model.FileRecord
	streamed int
	createFn func(ctx context.Context, rec *model.FileRecord) error
	streamFn func(ctx context.Context, filter repository.DateFilter) iter.Seq2[*model.FileRecord, error]
}

func (m *mockFileRepo) Create(ctx context.Context, rec *model.FileRecord) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockFileRepo) Stream(ctx context.Context, filter repository.DateFilter) iter.Seq2[*model.FileRecord, error] {
	if m.streamFn != nil {
		return m.streamFn(ctx, filter)
	}
	return func(yield func(*model.FileRecord, error) bool) {
		m.mu.Lock()
		records := slices.Clone(m.records)
		m.mu.Unlock()

		for _, rec := range records {
			if filter.After != nil && !rec.Date.After(model.TruncateDate(*filter.After)) {
				continue
			}
			if filter.Before != nil && !rec.Date.Before(model.TruncateDate(*filter.Before)) {
				continue
			}
			m.streamed++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// --- Mock object store ---

// mockObjectStore — in-memory ObjectStore.
type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putFn   func(ctx context.Context, key string) error
	listFn  func(ctx context.Context) ([]string, error)
	listed  int
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: map[string][]byte{}}
}

func (m *mockObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if m.putFn != nil {
		if err := m.putFn(ctx, key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *mockObjectStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.listed++
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.objects)), nil
}

func (m *mockObjectStore) URLFor(_ context.Context, key string) (string, error) {
	return "https://storage.test/" + key, nil
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBox(t *testing.T) *cryptobox.Box {
	t.Helper()
	key := make([]byte, cryptobox.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := cryptobox.New(key)
	require.NoError(t, err)
	return box
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(model.DateLayout, s)
	require.NoError(t, err)
	return d
}
