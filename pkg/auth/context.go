package auth

import (
	"context"

	"github.com/platinummonkey/hrm/pkg/contextkeys"
)

// WithIdentity attaches an identity to the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// IdentityFromContext returns the identity attached by the authentication gate, or nil
func IdentityFromContext(ctx context.Context) *Identity {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
