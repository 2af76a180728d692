// Пакет auth — аутентификация через внешнего identity provider:
// кэш публичных ключей подписи, проверка bearer-токенов, вычисление
// Identity из claims и обмен authorization code на токен.
package auth

import (
	"errors"
	"fmt"
)

// Ошибки аутентификации и авторизации.
var (
	// ErrAuthentication — токен отсутствует, невалиден или не содержит обязательных claims.
	ErrAuthentication = errors.New("ошибка аутентификации")
	// ErrInvalidToken — токен не прошёл разбор или криптографическую проверку.
	ErrInvalidToken = fmt.Errorf("%w: невалидный токен", ErrAuthentication)
	// ErrPermissions — у пользователя нет требуемых прав.
	ErrPermissions = errors.New("User is not allowed to perform this action")
	// ErrUpstreamAuth — identity provider не выдал токен по authorization code.
	ErrUpstreamAuth = errors.New("identity provider не выдал токен")
)
