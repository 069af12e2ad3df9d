package domain

import "context"

type accountKey struct{}

// WithAccount returns a context carrying the authenticated account id.
func WithAccount(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountKey{}, accountID)
}

// AccountFrom returns the account id stored by WithAccount, or ErrAuthRequired.
func AccountFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(accountKey{}).(string)
	if id == "" {
		return "", ErrAuthRequired
	}
	return id, nil
}
