package identity

import "context"

// Principal is the authenticated caller attached to a request context by
// the transport layer after token validation.
type Principal struct {
	UserID      string
	Username    string
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal with its permission set preloaded.
func NewPrincipal(userID, username string, roles, permissionCodes []string) Principal {
	set := make(map[string]struct{}, len(permissionCodes))
	for _, code := range permissionCodes {
		set[code] = struct{}{}
	}
	return Principal{UserID: userID, Username: username, Roles: roles, Permissions: set}
}

// HasPermission reports whether the principal holds the permission code.
func (p Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &p)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
