// Пакет cryptobox — симметричное аутентифицированное шифрование
// (XChaCha20-Poly1305) для персональных данных и имён объектов хранилища.
// Nonce случайный и хранится перед шифротекстом, поэтому шифрование
// одного и того же открытого текста даёт разные результаты.
package cryptobox

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize — размер секретного ключа в байтах.
const KeySize = chacha20poly1305.KeySize

// ErrDecryption — шифротекст повреждён, подделан или зашифрован другим ключом.
var ErrDecryption = errors.New("не удалось расшифровать данные")

// ErrNotCiphertext — данные не могут быть шифротекстом Box: некорректный
// base64 или длина меньше nonce и тега. Оборачивает ErrDecryption.
var ErrNotCiphertext = fmt.Errorf("%w: данные не являются шифротекстом", ErrDecryption)

// Box шифрует и расшифровывает данные одним секретным ключом процесса.
// Безопасен для конкурентного использования.
type Box struct {
	aead cipher.AEAD
}

// New создаёт Box из 32-байтового ключа.
func New(key []byte) (*Box, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("создание AEAD: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt возвращает nonce || ciphertext || tag.
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("генерация nonce: %w", err)
	}
	return b.aead.Seal(out, out, plaintext, nil), nil
}

// Decrypt проверяет тег и возвращает открытый текст.
// Любая ошибка проверки оборачивает ErrDecryption.
func (b *Box) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(ciphertext) < nonceSize+b.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d байт", ErrNotCiphertext, len(ciphertext))
	}
	plaintext, err := b.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// EncryptToken шифрует строку и кодирует результат в base64url без padding,
// пригодный для использования в ключах объектов хранилища.
func (b *Box) EncryptToken(plaintext string) (string, error) {
	ct, err := b.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(ct), nil
}

// DecryptToken обратна EncryptToken. Некорректный base64 даёт ErrNotCiphertext.
func (b *Box) DecryptToken(token string) (string, error) {
	ct, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: некорректный base64", ErrNotCiphertext)
	}
	pt, err := b.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
