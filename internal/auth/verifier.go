// verifier.go — проверка bearer-токенов: подпись, срок действия,
// issuer, audience и алгоритм проверяются одним вызовом парсера.
package auth

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
)

// KeyLookup — источник публичных ключей подписи по kid.
type KeyLookup interface {
	Lookup(ctx context.Context, kid string) (jwkset.JWK, bool)
}

// VerifiedClaims — claims токена, прошедшего полную проверку.
// Создаётся только TokenVerifier.
type VerifiedClaims struct {
	claims jwt.MapClaims
}

// Get возвращает значение claim по имени.
func (c VerifiedClaims) Get(name string) (any, bool) {
	v, ok := c.claims[name]
	return v, ok
}

// Subject возвращает claim sub (пустая строка, если отсутствует).
func (c VerifiedClaims) Subject() string {
	sub, _ := c.claims.GetSubject()
	return sub
}

// TokenVerifier проверяет подписанные токены identity provider.
type TokenVerifier struct {
	keys       KeyLookup
	issuer     string
	audience   string
	algorithms []string
	leeway     time.Duration
}

// NewTokenVerifier создаёт проверку токенов.
// issuer и audience должны точно совпадать с claims iss и aud.
func NewTokenVerifier(keys KeyLookup, issuer, audience string, algorithms []string, leeway time.Duration) *TokenVerifier {
	return &TokenVerifier{
		keys:       keys,
		issuer:     issuer,
		audience:   audience,
		algorithms: slices.Clone(algorithms),
		leeway:     leeway,
	}
}

// Verify разбирает заголовок без проверки, находит ключ по kid и
// выполняет проверку подписи и claims. Повторов нет.
// Все ошибки оборачивают ErrInvalidToken.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (VerifiedClaims, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return VerifiedClaims{}, fmt.Errorf("%w: заголовок не разобран: %v", ErrInvalidToken, err)
	}

	alg, _ := unverified.Header["alg"].(string)
	if !slices.Contains(v.algorithms, alg) {
		return VerifiedClaims{}, fmt.Errorf("%w: алгоритм %q не разрешён", ErrInvalidToken, alg)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return VerifiedClaims{}, fmt.Errorf("%w: в заголовке нет kid", ErrInvalidToken)
	}

	jwk, ok := v.keys.Lookup(ctx, kid)
	if !ok {
		return VerifiedClaims{}, fmt.Errorf("%w: ключ подписи %q не найден", ErrInvalidToken, kid)
	}
	publicKey := jwk.Key()

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return publicKey, nil },
		jwt.WithValidMethods(v.algorithms),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return VerifiedClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return VerifiedClaims{claims: claims}, nil
}
