package session

import "context"

type accountContextKey struct{}

// ContextWithAccount attaches the authenticated account id and role.
func ContextWithAccount(ctx context.Context, accountID, role string) context.Context {
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, accountContextKey{}, authedAccount{id: accountID, role: role})
}

// AccountFromContext extracts the authenticated account id and role.
func AccountFromContext(ctx context.Context) (accountID, role string, ok bool) {
	if ctx == nil {
		return "", "", false
	}
	v, ok := ctx.Value(accountContextKey{}).(authedAccount)
	if !ok {
		return "", "", false
	}
	return v.id, v.role, true
}

type authedAccount struct {
	id   string
	role string
}
