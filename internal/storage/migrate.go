package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

const (
	createMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`
	selectMigrations = `SELECT id FROM schema_migrations`
	insertMigration  = `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// migration is one embedded file. A file holding only comments has an
// empty body and is recorded without being run.
type migration struct {
	id   string
	body string
}

// Migrator applies the embedded .sql files for one dialect in name order
// and records each in schema_migrations.
type Migrator struct {
	db      *sql.DB
	fs      fs.FS
	dialect dialect
}

func newMigrator(db *sql.DB, migrations fs.FS, d dialect) *Migrator {
	return &Migrator{db: db, fs: migrations, dialect: d}
}

func (m *Migrator) Up(ctx context.Context) error {
	if m.db == nil {
		return fmt.Errorf("db is required")
	}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	all, err := m.load()
	if err != nil || len(all) == 0 {
		return err
	}

	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range all {
		if done[mig.id] {
			continue
		}
		if mig.body == "" {
			err = m.record(ctx, m.db, mig.id)
		} else {
			err = m.apply(ctx, mig)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// load reads this dialect's files sorted by name.
func (m *Migrator) load() ([]migration, error) {
	files, err := fs.Glob(m.fs, m.dialect.migrationsDir()+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(files)

	out := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(m.fs, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		out = append(out, migration{
			id:   path.Base(file),
			body: strings.TrimSpace(stripLineComments(string(content))),
		})
	}
	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createMigrations); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, selectMigrations)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return done, nil
}

// apply runs mig and records it in one transaction.
func (m *Migrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mig.id, err)
	}
	if _, err := tx.ExecContext(ctx, mig.body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", mig.id, err)
	}
	if err := m.record(ctx, tx, mig.id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.id, err)
	}
	return nil
}

func (m *Migrator) record(ctx context.Context, ex execer, id string) error {
	if _, err := ex.ExecContext(ctx, m.dialect.rebind(insertMigration), id, m.dialect.bindTime(time.Now())); err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

func stripLineComments(sqlText string) string {
	lines := strings.Split(sqlText, "\n")
	return strings.Join(slices.DeleteFunc(lines, func(line string) bool {
		return strings.HasPrefix(strings.TrimSpace(line), "--")
	}), "\n")
}
