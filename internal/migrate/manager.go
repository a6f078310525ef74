// Package migrate applies the SQL schema and seed files under ops/migrations.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"lexflow.io/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// advisoryLockKey serializes concurrent runners, e.g. several api
	// replicas starting at once.
	advisoryLockKey int64 = 0x6c6578666c6f77
)

var ErrNothingApplied = errors.New("no migrations applied")

// Manager executes SQL migrations and seed files.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSeeds sets the seed file tree. Without it Seed is a no-op.
func WithSeeds(seeds fs.FS) Option {
	return func(m *Manager) { m.seeds = seeds }
}

func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDirManager reads migrations and seeds from directories on disk. An
// empty seedsDir disables seeding.
func NewDirManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	if seedsDir != "" {
		opts = append([]Option{WithSeeds(os.DirFS(seedsDir))}, opts...)
	}
	return NewManager(db, os.DirFS(migrationsDir), opts...)
}

// Migration is one .up.sql file and whether it has run.
type Migration struct {
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Up applies every pending migration in name order and returns the names
// it applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		names, err := m.apply(ctx, conn, m.migrations, ".up.sql", m.migrationsTable)
		applied = names
		return err
	})
	return applied, err
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var name string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		history, err := m.history(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingApplied
		}
		last := history[len(history)-1].Name
		downName := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
		body, err := fs.ReadFile(m.migrations, downName)
		if err != nil {
			return fmt.Errorf("missing down migration for %s: %w", last, err)
		}
		if err := m.exec(ctx, conn, string(body), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
			return err
		}); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		obs.Info("migration rolled back", map[string]any{"name": last})
		name = last
		return nil
	})
	return name, err
}

// Seed applies seed files not yet recorded.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, nil
	}
	var applied []string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		names, err := m.apply(ctx, conn, m.seeds, ".sql", m.seedsTable)
		applied = names
		return err
	})
	return applied, err
}

// Status lists every migration file with its applied state.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := m.ensureTable(ctx, conn, m.migrationsTable); err != nil {
		return nil, err
	}
	history, err := m.history(ctx, conn, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.migrations, ".up.sql")
	if err != nil {
		return nil, err
	}
	appliedAt := make(map[string]time.Time, len(history))
	for _, h := range history {
		appliedAt[h.Name] = *h.AppliedAt
	}
	out := make([]Migration, 0, len(files))
	for _, name := range files {
		mig := Migration{Name: name}
		if at, ok := appliedAt[name]; ok {
			mig.Applied = true
			mig.AppliedAt = &at
		}
		out = append(out, mig)
	}
	return out, nil
}

// Pending reports the migrations Up would apply.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range status {
		if !s.Applied {
			out = append(out, s.Name)
		}
	}
	return out, nil
}

// locked runs fn on one connection holding the session advisory lock.
func (m *Manager) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, advisoryLockKey); err != nil {
			obs.Error("release migration lock", err, nil)
		}
	}()
	return fn(conn)
}

func (m *Manager) apply(ctx context.Context, conn *sql.Conn, fsys fs.FS, suffix, table string) ([]string, error) {
	if err := m.ensureTable(ctx, conn, table); err != nil {
		return nil, err
	}
	history, err := m.history(ctx, conn, table)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(history))
	for _, h := range history {
		done[h.Name] = true
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if done[name] {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return applied, err
		}
		started := m.now()
		if err := m.exec(ctx, conn, string(body), func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, table),
				name, m.now().UTC())
			return err
		}); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		obs.Info("sql file applied", map[string]any{
			"table":       table,
			"name":        name,
			"duration_ms": m.now().Sub(started).Milliseconds(),
		})
		applied = append(applied, name)
	}
	return applied, nil
}

func (m *Manager) ensureTable(ctx context.Context, conn *sql.Conn, table string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, table))
	return err
}

// exec runs every statement of body and the bookkeeping record in one
// transaction.
func (m *Manager) exec(ctx context.Context, conn *sql.Conn, body string, record func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range SplitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, conn *sql.Conn, table string) ([]Migration, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Migration
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		res = append(res, Migration{Name: name, Applied: true, AppliedAt: &at})
	}
	return res, rows.Err()
}

// collectSQL lists the files at the root of fsys ending in suffix, sorted.
func collectSQL(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, path.Base(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}
