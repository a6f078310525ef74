package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lexflow.io/internal/apperr"
)

type stubProfileStore struct {
	mu       sync.Mutex
	getFn    func(context.Context, string) (Profile, error)
	createFn func(context.Context, Profile) (Profile, error)
	updateFn func(context.Context, string, ProfileUpdate) (Profile, error)
	gets     int
	creates  int
	updates  int
}

func (s *stubProfileStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return Profile{}, apperr.ErrNotFound
}

func (s *stubProfileStore) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, p)
	}
	return p, nil
}

func (s *stubProfileStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (Profile, error) {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	if s.updateFn != nil {
		return s.updateFn(ctx, id, upd)
	}
	return Profile{}, errors.New("not implemented")
}

// memProfileStore keeps rows in a map and reports duplicate ids as conflicts.
type memProfileStore struct {
	mu   sync.Mutex
	rows map[string]Profile
}

func (m *memProfileStore) GetProfile(_ context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return Profile{}, apperr.ErrNotFound
	}
	return p, nil
}

func (m *memProfileStore) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; ok {
		return Profile{}, apperr.ErrConflict
	}
	m.rows[p.ID] = p
	return p, nil
}

func (m *memProfileStore) UpdateProfile(_ context.Context, id string, upd ProfileUpdate) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return Profile{}, apperr.ErrNotFound
	}
	upd.applyTo(&p)
	m.rows[id] = p
	return p, nil
}

func TestResolveNilIdentity(t *testing.T) {
	r := NewResolver(&stubProfileStore{})
	p, err := r.Resolve(context.Background(), nil)
	if err != nil || p != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", p, err)
	}
}

func TestResolveCreatesClienteByDefault(t *testing.T) {
	store := &stubProfileStore{}
	r := NewResolver(store)
	p, err := r.Resolve(context.Background(), &Identity{ID: testIdentityID, Email: "new@client.example"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Role != RoleCliente || !p.Activo || p.Nombre != "new" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if store.creates != 1 {
		t.Fatalf("expected one insert, got %d", store.creates)
	}
}

func TestResolveCreateUsesClaimedRole(t *testing.T) {
	store := &stubProfileStore{}
	r := NewResolver(store)
	p, err := r.Resolve(context.Background(), &Identity{
		ID:          testIdentityID,
		AppMetadata: map[string]any{"role": "lawyer"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Role != RoleAbogado {
		t.Fatalf("expected abogado, got %s", p.Role)
	}
}

func TestResolveTwiceDoesNotDuplicate(t *testing.T) {
	store := &memProfileStore{rows: map[string]Profile{}}
	r := NewResolver(store)
	id := &Identity{ID: testIdentityID, Email: "ana@firma.example"}
	first, err := r.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected a single profile row, got %d", len(store.rows))
	}
	if first.ID != second.ID || first.Role != second.Role {
		t.Fatalf("profiles differ: %+v vs %+v", first, second)
	}
}

func TestResolveRecoversFromDuplicateKey(t *testing.T) {
	existing := Profile{ID: testIdentityID, Email: "ana@firma.example", Nombre: "Ana", Role: RoleAbogado, Activo: true}
	calls := 0
	store := &stubProfileStore{
		getFn: func(_ context.Context, id string) (Profile, error) {
			calls++
			if calls == 1 {
				return Profile{}, apperr.ErrNotFound
			}
			return existing, nil
		},
		createFn: func(context.Context, Profile) (Profile, error) {
			return Profile{}, apperr.ErrConflict
		},
	}
	r := NewResolver(store)
	p, err := r.Resolve(context.Background(), &Identity{ID: testIdentityID, Email: "ana@firma.example"})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if p.Role != RoleAbogado {
		t.Fatalf("expected stored row, got %+v", p)
	}
	if store.gets != 2 {
		t.Fatalf("expected re-fetch after conflict, got %d reads", store.gets)
	}
}

func TestResolvePersistsDrift(t *testing.T) {
	store := &stubProfileStore{
		getFn: func(context.Context, string) (Profile, error) {
			return Profile{ID: testIdentityID, Email: "old@firma.example", Nombre: "Ana", Role: RoleCliente, Activo: true}, nil
		},
		updateFn: func(_ context.Context, id string, upd ProfileUpdate) (Profile, error) {
			if upd.Email == nil || *upd.Email != "ana@firma.example" {
				t.Fatalf("expected email drift, got %+v", upd)
			}
			if upd.Nombre != nil {
				t.Fatalf("name did not drift, got %q", *upd.Nombre)
			}
			if upd.Role == nil || *upd.Role != RoleAdminFirma {
				t.Fatalf("expected role override, got %+v", upd)
			}
			return Profile{ID: id, Email: *upd.Email, Nombre: "Ana", Role: *upd.Role, Activo: true}, nil
		},
	}
	r := NewResolver(store)
	p, err := r.Resolve(context.Background(), &Identity{
		ID:           testIdentityID,
		Email:        "ana@firma.example",
		AppMetadata:  map[string]any{"is_admin": true},
		UserMetadata: map[string]any{"name": "Ana"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Role != RoleAdminFirma || store.updates != 1 {
		t.Fatalf("unexpected result %+v updates=%d", p, store.updates)
	}
}

func TestResolveFallsBackToInMemoryOverride(t *testing.T) {
	store := &stubProfileStore{
		getFn: func(context.Context, string) (Profile, error) {
			return Profile{ID: testIdentityID, Email: "ana@firma.example", Role: RoleCliente, Activo: true}, nil
		},
		updateFn: func(context.Context, string, ProfileUpdate) (Profile, error) {
			return Profile{}, errors.New("permission denied for table profiles")
		},
	}
	r := NewResolver(store)
	p, err := r.Resolve(context.Background(), &Identity{
		ID:          testIdentityID,
		Email:       "ana@firma.example",
		AppMetadata: map[string]any{"role": "analista"},
	})
	if err != nil {
		t.Fatalf("update failure must not surface: %v", err)
	}
	if p.Role != RoleAnalista {
		t.Fatalf("expected in-memory override, got %s", p.Role)
	}
}

func TestResolveNoClaimChangesSkipsWrite(t *testing.T) {
	store := &stubProfileStore{
		getFn: func(context.Context, string) (Profile, error) {
			return Profile{ID: testIdentityID, Email: "ana@firma.example", Nombre: "Ana", Role: RoleAbogado, Activo: true}, nil
		},
	}
	r := NewResolver(store)
	if _, err := r.Resolve(context.Background(), &Identity{ID: testIdentityID, Email: "ANA@firma.example"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if store.updates != 0 || store.creates != 0 {
		t.Fatalf("expected no writes, got updates=%d creates=%d", store.updates, store.creates)
	}
}

func TestResolvePropagatesStoreFailure(t *testing.T) {
	store := &stubProfileStore{
		getFn: func(context.Context, string) (Profile, error) {
			return Profile{}, errors.New("connection refused")
		},
	}
	r := NewResolver(store)
	if _, err := r.Resolve(context.Background(), &Identity{ID: testIdentityID}); err == nil {
		t.Fatal("expected error")
	}
	if store.creates != 0 {
		t.Fatal("must not create on read failure")
	}
}
