package auth

import "context"

// IdentityAdmin manages authenticated identities on behalf of the firm.
// CreateIdentity and InviteIdentity return apperr.ErrConflict when the email
// is already registered.
type IdentityAdmin interface {
	CreateIdentity(ctx context.Context, email, password string, userMetadata map[string]any) (string, error)
	InviteIdentity(ctx context.Context, email string, userMetadata map[string]any) (string, error)
	DeleteIdentity(ctx context.Context, id string) error
}
