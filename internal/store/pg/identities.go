package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/ids"
)

var _ auth.IdentityAdmin = (*Store)(nil)

func (s *Store) CreateIdentity(ctx context.Context, email, password string, userMetadata map[string]any) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", fmt.Errorf("%w: password is required", apperr.ErrInvalidInput)
	}
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrWeakPassword) {
		return "", fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if err != nil {
		return "", err
	}
	return s.insertIdentity(ctx, email, hash, userMetadata, false)
}

// InviteIdentity registers an identity without a password. The invited
// user sets one through the hosted flow.
func (s *Store) InviteIdentity(ctx context.Context, email string, userMetadata map[string]any) (string, error) {
	return s.insertIdentity(ctx, email, "", userMetadata, true)
}

func (s *Store) insertIdentity(ctx context.Context, email, hash string, userMetadata map[string]any, invited bool) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", apperr.ErrInvalidInput)
	}
	if userMetadata == nil {
		userMetadata = map[string]any{}
	}
	meta, err := json.Marshal(userMetadata)
	if err != nil {
		return "", fmt.Errorf("encode user metadata: %w", err)
	}
	id := ids.NewIdentity()
	now := s.now().UTC()
	invitedAt := optionalTime(now, invited)
	_, err = s.db.ExecContext(ctx, `
		insert into auth_identities (id, email, password_hash, user_metadata, invited_at, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		id, email, optional(hash), meta, invitedAt, now)
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from auth_identities where id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
