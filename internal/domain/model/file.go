// Пакет model — доменные модели Frost Shard.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout — формат даты файла в API, ключах хранилища и фильтрах.
const DateLayout = time.DateOnly

// FileRecord — запись таблицы files.
// Все поля неизменяемы после создания.
type FileRecord struct {
	// ID — UUID файла, генерируется при создании
	ID uuid.UUID
	// EncryptedEmail — email владельца, зашифрованный cryptobox
	EncryptedEmail []byte
	// Date — дата файла (полночь UTC)
	Date time.Time
	// CreatedAt — время вставки записи
	CreatedAt time.Time
}

// DecryptedFileRecord — файл, сопоставленный с объектом хранилища.
type DecryptedFileRecord struct {
	ID   uuid.UUID
	Date time.Time
	// URL — presigned ссылка на скачивание объекта
	URL string
}

// TruncateDate приводит момент времени к дате (полночь UTC).
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
