package session

import (
	"context"
	"time"

	"github.com/gaspardpetit/skybridge/core/logx"
	"github.com/gaspardpetit/skybridge/internal/upstream"
)

// Refresh exchanges data's refresh token for a new token pair in one
// session-scoped call, saves the result to store when store is non-nil and
// returns it. It is the only way tokens are renewed; WithUserSession never
// refreshes on its own.
func Refresh(ctx context.Context, f *Factory, store *Store, data SessionData) (SessionData, error) {
	next, err := WithUserSession(ctx, f, data, func(ctx context.Context, c *upstream.Client) (SessionData, error) {
		tokens, err := c.RefreshSession(ctx)
		if err != nil {
			return SessionData{}, err
		}
		out := data
		out.AccessToken = tokens.AccessJwt
		if tokens.RefreshJwt != "" {
			out.RefreshToken = tokens.RefreshJwt
		}
		if tokens.Handle != "" {
			out.Handle = tokens.Handle
		}
		out.CreatedAt = time.Now().UTC()
		return out, nil
	})
	if err != nil {
		return SessionData{}, err
	}
	if store != nil {
		if err := store.Save(ctx, next); err != nil {
			return SessionData{}, err
		}
	}
	logx.Log.Info().Str("account", next.AccountID).Msg("session refreshed")
	return next, nil
}
