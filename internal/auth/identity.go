// identity.go — Identity пользователя, вычисляемая из проверенных claims.
// Обязательные claims (email, roles) и необязательные (permissions)
// извлекаются разными путями: отсутствие обязательных — ошибка
// аутентификации, отсутствие permissions — пустой набор.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// Role — роль пользователя.
type Role string

const (
	RoleRegular Role = "regular"
	RoleAdmin   Role = "admin"
)

// Permission — право на операцию API.
type Permission string

const (
	PermissionReadFiles       Permission = "read:files"
	PermissionReadGlobalFiles Permission = "read:global_files"
	PermissionCreateFiles     Permission = "create:files"
)

var knownRoles = []Role{RoleRegular, RoleAdmin}

var knownPermissions = []Permission{PermissionReadFiles, PermissionReadGlobalFiles, PermissionCreateFiles}

// Identity — неизменяемые данные пользователя в рамках одного запроса.
type Identity struct {
	email       string
	roles       []Role
	permissions []Permission
}

// NewIdentity создаёт Identity. Роли и права сортируются и дедуплицируются.
func NewIdentity(email string, roles []Role, permissions []Permission) Identity {
	r := slices.Clone(roles)
	slices.Sort(r)
	p := slices.Clone(permissions)
	slices.Sort(p)
	return Identity{
		email:       email,
		roles:       slices.Compact(r),
		permissions: slices.Compact(p),
	}
}

// Email возвращает email пользователя.
func (i Identity) Email() string { return i.email }

// Roles возвращает копию набора ролей.
func (i Identity) Roles() []Role { return slices.Clone(i.roles) }

// Permissions возвращает копию набора прав.
func (i Identity) Permissions() []Permission { return slices.Clone(i.permissions) }

// HasRole сообщает, есть ли у пользователя роль.
func (i Identity) HasRole(role Role) bool {
	_, found := slices.BinarySearch(i.roles, role)
	return found
}

// HasPermission сообщает, есть ли у пользователя право.
func (i Identity) HasPermission(p Permission) bool {
	_, found := slices.BinarySearch(i.permissions, p)
	return found
}

// LogValue реализует slog.LogValuer.
func (i Identity) LogValue() slog.Value {
	roles := make([]string, len(i.roles))
	for n, r := range i.roles {
		roles[n] = string(r)
	}
	perms := make([]string, len(i.permissions))
	for n, p := range i.permissions {
		perms[n] = string(p)
	}
	return slog.GroupValue(
		slog.String("email", i.email),
		slog.String("roles", strings.Join(roles, ",")),
		slog.String("permissions", strings.Join(perms, ",")),
	)
}

// RequirePermissions возвращает ErrPermissions, если хотя бы одного
// требуемого права нет у пользователя.
func RequirePermissions(identity Identity, required ...Permission) error {
	for _, p := range required {
		if !identity.HasPermission(p) {
			return ErrPermissions
		}
	}
	return nil
}

// ClaimsVerifier — проверка токена, возвращающая claims.
type ClaimsVerifier interface {
	Verify(ctx context.Context, raw string) (VerifiedClaims, error)
}

// IdentityResolver вычисляет Identity из bearer-токена.
type IdentityResolver struct {
	verifier  ClaimsVerifier
	namespace string
	logger    *slog.Logger
}

// NewIdentityResolver создаёт resolver.
// namespace — claim, под которым провайдер кладёт объект с email, roles, permissions.
func NewIdentityResolver(verifier ClaimsVerifier, namespace string, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{
		verifier:  verifier,
		namespace: namespace,
		logger:    logger.With(slog.String("component", "identity_resolver")),
	}
}

// Resolve проверяет токен и извлекает Identity.
func (r *IdentityResolver) Resolve(ctx context.Context, rawToken string) (Identity, error) {
	if rawToken == "" {
		return Identity{}, fmt.Errorf("%w: токен не передан", ErrAuthentication)
	}

	claims, err := r.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	custom, _ := claims.Get(r.namespace)
	ns, _ := custom.(map[string]any)

	email, roles, err := r.requiredClaims(ns)
	if err != nil {
		r.logger.Debug("В токене нет обязательных claims",
			slog.String("sub", claims.Subject()),
			slog.String("error", err.Error()),
		)
		return Identity{}, err
	}

	return NewIdentity(email, roles, r.optionalPermissions(ns, claims)), nil
}

// requiredClaims извлекает email и roles из объекта namespace.
func (r *IdentityResolver) requiredClaims(ns map[string]any) (string, []Role, error) {
	if ns == nil {
		return "", nil, fmt.Errorf("%w: нет claim %q", ErrAuthentication, r.namespace)
	}

	email, _ := ns["email"].(string)
	if email == "" {
		return "", nil, fmt.Errorf("%w: нет claim email", ErrAuthentication)
	}

	rawRoles, ok := ns["roles"]
	if !ok {
		return "", nil, fmt.Errorf("%w: нет claim roles", ErrAuthentication)
	}
	names, ok := stringList(rawRoles)
	if !ok {
		return "", nil, fmt.Errorf("%w: claim roles должен быть списком строк", ErrAuthentication)
	}

	var roles []Role
	for _, name := range names {
		if role := Role(name); slices.Contains(knownRoles, role) {
			roles = append(roles, role)
		}
	}
	return email, roles, nil
}

// optionalPermissions извлекает permissions: сначала из namespace,
// затем из claim верхнего уровня (RBAC провайдера). Отсутствие — пустой набор.
func (r *IdentityResolver) optionalPermissions(ns map[string]any, claims VerifiedClaims) []Permission {
	raw, ok := ns["permissions"]
	if !ok {
		raw, ok = claims.Get("permissions")
	}
	if !ok {
		return nil
	}
	names, _ := stringList(raw)

	var perms []Permission
	for _, name := range names {
		if p := Permission(name); slices.Contains(knownPermissions, p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// stringList приводит JSON-массив к []string.
func stringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
