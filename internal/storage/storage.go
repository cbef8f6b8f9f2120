package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/user"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Users() user.Repository
	Messages() message.Repository
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver     string
	URL        string
	SQLitePath string
}

// Open connects to the database selected by opts.Driver.
func Open(ctx context.Context, opts Options) (*SQLStore, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		return NewPostgresStore(ctx, opts.URL)
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}
}
