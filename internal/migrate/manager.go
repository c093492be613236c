// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"linkgate.org/internal/obs"
)

const defaultMigrationsTable = "goose_db_version"

//go:embed sql/*.sql
var embedded embed.FS

// Migrations exposes the schema files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Manager runs migrations against one database.
type Manager struct {
	db              *sql.DB
	migrationsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, migrationsTable: defaultMigrationsTable}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error { return goose.UpContext(ctx, m.db, ".") })
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error { return goose.DownContext(ctx, m.db, ".") })
}

// Status returns one line per known migration with its applied state.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	var lines []string
	err := m.run(func() error {
		current, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return err
		}
		all, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
		if err != nil {
			return err
		}
		lines = statusLines(all, current)
		return nil
	})
	return lines, err
}

func statusLines(all goose.Migrations, current int64) []string {
	out := make([]string, 0, len(all))
	for _, mig := range all {
		state := "pending"
		if mig.Version <= current {
			state = "applied"
		}
		out = append(out, fmt.Sprintf("%05d %-8s %s", mig.Version, state, mig.Source))
	}
	return out
}

func (m *Manager) run(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(Migrations())
	goose.SetTableName(m.migrationsTable)
	goose.SetLogger(zapGooseLogger{obs.Logger().Named("migrate").Sugar()})
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type zapGooseLogger struct{ l *zap.SugaredLogger }

func (z zapGooseLogger) Printf(format string, v ...any) { z.l.Infof(format, v...) }
func (z zapGooseLogger) Fatalf(format string, v ...any) { z.l.Fatalf(format, v...) }
