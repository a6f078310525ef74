package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testIdentityID = "6f1c2a8e-3b7d-4e5f-9a0b-1c2d3e4f5a6b"

func TestVerifierRoundTrip(t *testing.T) {
	v, err := NewVerifier("test-secret", WithAudience("authenticated"))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	token, err := v.Sign(Identity{
		ID:           testIdentityID,
		Email:        "Ana@Firma.example",
		AppMetadata:  map[string]any{"role": "abogado"},
		UserMetadata: map[string]any{"full_name": "Ana Torres"},
	}, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.ID != testIdentityID {
		t.Fatalf("unexpected subject %s", id.ID)
	}
	if id.Email != "ana@firma.example" {
		t.Fatalf("expected lower-cased email, got %s", id.Email)
	}
	if id.AppMetadata["role"] != "abogado" {
		t.Fatalf("app metadata lost: %v", id.AppMetadata)
	}
}

func TestVerifierRejectsExpiredAndForeignTokens(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	signer, _ := NewVerifier("test-secret", WithVerifierClock(func() time.Time { return past }))
	expired, err := signer.Sign(Identity{ID: testIdentityID}, time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v, _ := NewVerifier("test-secret")
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}

	other, _ := NewVerifier("other-secret")
	foreign, _ := other.Sign(Identity{ID: testIdentityID}, time.Minute)
	if _, err := v.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected bad signature rejected, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   testIdentityID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none rejected, got %v", err)
	}

	notUUID, _ := v.Sign(Identity{ID: "user-1"}, time.Minute)
	if _, err := v.Verify(notUUID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected non-uuid subject rejected, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestClaimedRolePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		id     Identity
		want   Role
		source string
		ok     bool
	}{
		{
			name: "app claim wins over user claim",
			id: Identity{
				AppMetadata:  map[string]any{"role": "Abogado"},
				UserMetadata: map[string]any{"role": "cliente"},
			},
			want: RoleAbogado, source: "app_metadata.role", ok: true,
		},
		{
			name:   "legacy alias key",
			id:     Identity{UserMetadata: map[string]any{"tipo_usuario": "analyst"}},
			want:   RoleAnalista,
			source: "user_metadata.tipo_usuario",
			ok:     true,
		},
		{
			name:   "admin flag",
			id:     Identity{AppMetadata: map[string]any{"is_admin": true}},
			want:   RoleAdminFirma,
			source: "app_metadata.is_admin",
			ok:     true,
		},
		{
			name:   "string admin flag",
			id:     Identity{UserMetadata: map[string]any{"es_admin": "true"}},
			want:   RoleAdminFirma,
			source: "user_metadata.es_admin",
			ok:     true,
		},
		{
			name:   "unknown value falls through to next source",
			id:     Identity{AppMetadata: map[string]any{"role": "viewer"}, UserMetadata: map[string]any{"role": "client"}},
			want:   RoleCliente,
			source: "user_metadata.role",
			ok:     true,
		},
		{
			name: "nothing claimed",
			id:   Identity{AppMetadata: map[string]any{"provider": "email"}},
			ok:   false,
		},
	}
	for _, tc := range cases {
		got, source, ok := ClaimedRole(tc.id)
		if ok != tc.ok || got != tc.want || source != tc.source {
			t.Fatalf("%s: got (%q, %q, %v), want (%q, %q, %v)", tc.name, got, source, ok, tc.want, tc.source, tc.ok)
		}
	}
}

func TestDisplayNameFallsBackToEmail(t *testing.T) {
	if got := DisplayName(Identity{Email: "pedro@firma.example"}); got != "pedro" {
		t.Fatalf("unexpected name %q", got)
	}
	id := Identity{Email: "pedro@firma.example", UserMetadata: map[string]any{"nombre": "Pedro Ruiz"}}
	if got := DisplayName(id); got != "Pedro Ruiz" {
		t.Fatalf("unexpected name %q", got)
	}
}
