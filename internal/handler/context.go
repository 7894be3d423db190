package handler

import (
	"context"

	"storefront-api/internal/models"
)

type contextKey int

const identityKey contextKey = iota

func withIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the caller resolved by Middleware.Authenticate.
func IdentityFrom(ctx context.Context) (*models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*models.Identity)
	return id, ok && id != nil
}
