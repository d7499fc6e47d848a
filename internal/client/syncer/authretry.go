package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/placesync/internal/client/credentials"
	"github.com/and161185/placesync/internal/errs"
)

// WithAuthRetry runs call with the provider's token. If the service rejects
// it, the token is refreshed once and call is retried once; a failed refresh
// or a second rejection yields errs.ErrReauthRequired. Other errors pass through.
func WithAuthRetry[T any](ctx context.Context, p credentials.Provider, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	tok, err := p.Token(ctx)
	if err != nil {
		return zero, reauth("token", err)
	}
	out, err := call(ctx, tok)
	var ae *errs.AuthError
	if !errors.As(err, &ae) {
		return out, err
	}

	tok, err = p.Refresh(ctx)
	if err != nil {
		return zero, reauth("refresh", err)
	}
	out, err = call(ctx, tok)
	if errors.As(err, &ae) {
		return zero, reauth("retry", err)
	}
	return out, err
}

func reauth(step string, err error) error {
	if errors.Is(err, errs.ErrReauthRequired) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", errs.ErrReauthRequired, step, err)
}
