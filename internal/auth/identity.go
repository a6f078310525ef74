package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Identity is the authenticated principal as issued by the identity provider.
type Identity struct {
	ID           string
	Email        string
	AppMetadata  map[string]any
	UserMetadata map[string]any
}

// Claims mirrors the hosted identity token layout.
type Claims struct {
	Email        string         `json:"email,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens signed with the shared secret.
type Verifier struct {
	secret   []byte
	audience string
	now      func() time.Time
}

// VerifierOption configures Verifier.
type VerifierOption func(*Verifier)

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) VerifierOption {
	return func(v *Verifier) {
		v.audience = strings.TrimSpace(aud)
	}
}

// WithVerifierClock overrides the time source (tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

func NewVerifier(secret string, opts ...VerifierOption) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	v := &Verifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the signature and registered claims and returns the identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if _, err := uuid.Parse(sub); err != nil {
		return Identity{}, fmt.Errorf("%w: subject is not an identity id", ErrInvalidToken)
	}
	return Identity{
		ID:           sub,
		Email:        strings.ToLower(strings.TrimSpace(claims.Email)),
		AppMetadata:  claims.AppMetadata,
		UserMetadata: claims.UserMetadata,
	}, nil
}

// Sign issues a token for identity. Used by local tooling and tests; production
// tokens come from the identity provider.
func (v *Verifier) Sign(identity Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", errors.New("auth: identity id is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := v.now().UTC()
	claims := Claims{
		Email:        identity.Email,
		AppMetadata:  identity.AppMetadata,
		UserMetadata: identity.UserMetadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
