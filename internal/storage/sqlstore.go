package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/user"
)

// SQLStore serves both Postgres and SQLite.
type SQLStore struct {
	db       *sql.DB
	dialect  dialect
	users    *userRepo
	messages *messageRepo
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:       db,
		dialect:  d,
		users:    &userRepo{db: db, dialect: d},
		messages: &messageRepo{db: db, dialect: d},
	}
}

func NewPostgresStore(ctx context.Context, dbURL string) (*SQLStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}

	db, err := sql.Open(postgresDialect.sqlDriver(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return newSQLStore(db, postgresDialect), nil
}

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open(sqliteDialect.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return newSQLStore(db, sqliteDialect), nil
}

func (s *SQLStore) Close(ctx context.Context) error {
	_ = ctx
	return s.db.Close()
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	return newMigrator(s.db, migrationsFS, s.dialect).Up(ctx)
}

func (s *SQLStore) Users() user.Repository {
	return s.users
}

func (s *SQLStore) Messages() message.Repository {
	return s.messages
}

func (s *SQLStore) Driver() string {
	return s.dialect.name
}
