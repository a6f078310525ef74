package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/auth"
)

var profileRowColumns = []string{"id", "email", "nombre", "role", "activo", "telefono", "documento", "created_at", "updated_at"}

func TestCreateClientProfileAddsGuestMembership(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into profiles").
		WithArgs("cli-1", "c@x.cl", "Carla", nil, "11.111.111-1", fixedNow).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow("cli-1", "c@x.cl", "Carla", "cliente", true, nil, "11.111.111-1", fixedNow, fixedNow))
	mock.ExpectExec("insert into memberships").
		WithArgs("mem-1", "org-1", "cli-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc := "11.111.111-1"
	p, err := s.CreateClientProfile(context.Background(), "org-1", "mem-1", auth.Profile{
		ID: "cli-1", Email: "c@x.cl", Nombre: "Carla", Documento: &doc, CreatedAt: fixedNow,
	})
	if err != nil {
		t.Fatalf("CreateClientProfile: %v", err)
	}
	if p.Role != auth.RoleCliente {
		t.Fatalf("unexpected role %q", p.Role)
	}
	expectationsMet(t, mock)
}

func TestCreateClientProfileDuplicateRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into profiles").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.CreateClientProfile(context.Background(), "org-1", "mem-1", auth.Profile{ID: "cli-1", CreatedAt: fixedNow})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestListClientsEscapesQuery(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select count").
		WithArgs("org-1", `%perez\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("select p.id, p.email").
		WithArgs("org-1", `%perez\_%`, 2, 0).
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow("cli-1", "a@x.cl", "Perez_A", "cliente", true, nil, nil, fixedNow, fixedNow).
			AddRow("cli-2", "b@x.cl", "Perez_B", "cliente", true, nil, nil, fixedNow, fixedNow))

	out, total, err := s.ListClients(context.Background(), "org-1", " perez_ ", 2, 0)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if total != 3 || len(out) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", total, len(out))
	}
	expectationsMet(t, mock)
}

func TestSecuritySettingsRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select key, value from security_settings").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("rate_limit_per_minute", "60").
			AddRow("ip_allowlist", "10.0.0.0/8"))

	values, err := s.SecuritySettings(context.Background())
	if err != nil {
		t.Fatalf("SecuritySettings: %v", err)
	}
	if values["rate_limit_per_minute"] != "60" || values["ip_allowlist"] != "10.0.0.0/8" {
		t.Fatalf("unexpected values: %v", values)
	}
	expectationsMet(t, mock)
}
