package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("://nope", time.Minute); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestActiveOrgRoundTrip(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	defer store.Close()
	ctx := context.Background()

	org, err := store.ActiveOrg(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ActiveOrg: %v", err)
	}
	if org != "" {
		t.Fatalf("expected empty pointer, got %q", org)
	}
	if err := store.SetActiveOrg(ctx, "sess-1", "org-a"); err != nil {
		t.Fatalf("SetActiveOrg: %v", err)
	}
	org, err = store.ActiveOrg(ctx, "sess-1")
	if err != nil || org != "org-a" {
		t.Fatalf("unexpected (%q, %v)", org, err)
	}
	if other, _ := store.ActiveOrg(ctx, "sess-2"); other != "" {
		t.Fatalf("sessions leaked: %q", other)
	}
}

func TestSwitchingOrgClearsPersona(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	defer store.Close()
	ctx := context.Background()

	_ = store.SetActiveOrg(ctx, "sess-1", "org-a")
	if err := store.SetPersona(ctx, "sess-1", "abogado"); err != nil {
		t.Fatalf("SetPersona: %v", err)
	}
	if p, _ := store.Persona(ctx, "sess-1"); p != "abogado" {
		t.Fatalf("expected persona, got %q", p)
	}
	_ = store.SetActiveOrg(ctx, "sess-1", "org-a")
	if p, _ := store.Persona(ctx, "sess-1"); p != "abogado" {
		t.Fatalf("same org must keep persona, got %q", p)
	}
	_ = store.SetActiveOrg(ctx, "sess-1", "org-b")
	if p, _ := store.Persona(ctx, "sess-1"); p != "" {
		t.Fatalf("expected persona cleared, got %q", p)
	}
}

func TestSessionExpires(t *testing.T) {
	store, s := setupTestRedis(t, time.Minute)
	defer store.Close()
	ctx := context.Background()

	_ = store.SetActiveOrg(ctx, "sess-1", "org-a")
	s.FastForward(30 * time.Second)
	if org, _ := store.ActiveOrg(ctx, "sess-1"); org != "org-a" {
		t.Fatalf("expected pointer alive, got %q", org)
	}
	// the read above slid the expiry forward
	s.FastForward(45 * time.Second)
	if org, _ := store.ActiveOrg(ctx, "sess-1"); org != "org-a" {
		t.Fatalf("expected sliding expiry, got %q", org)
	}
	s.FastForward(2 * time.Minute)
	if org, _ := store.ActiveOrg(ctx, "sess-1"); org != "" {
		t.Fatalf("expected expired pointer, got %q", org)
	}
}

func TestForget(t *testing.T) {
	store, _ := setupTestRedis(t, time.Hour)
	defer store.Close()
	ctx := context.Background()

	_ = store.SetActiveOrg(ctx, "sess-1", "org-a")
	if err := store.Forget(ctx, "sess-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if org, _ := store.ActiveOrg(ctx, "sess-1"); org != "" {
		t.Fatalf("expected pointer removed, got %q", org)
	}
	if err := store.SetActiveOrg(ctx, "", "org-a"); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
