package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// dialect covers the differences between the two supported databases.
// Queries are written with $n placeholders and rebound per dialect.
type dialect struct {
	name string
}

var (
	postgresDialect = dialect{name: DriverPostgres}
	sqliteDialect   = dialect{name: DriverSQLite}
)

// sqlDriver is the database/sql driver registered for d.
func (d dialect) sqlDriver() string {
	if d.name == DriverSQLite {
		return "sqlite"
	}
	return "pgx"
}

func (d dialect) migrationsDir() string {
	return "migrations/" + d.name
}

func (d dialect) rebind(query string) string {
	if d.name != DriverSQLite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' || i+1 >= len(query) || query[i+1] < '0' || query[i+1] > '9' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('?')
		for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			i++
		}
	}
	return b.String()
}

func (d dialect) bindTime(t time.Time) any {
	t = t.UTC()
	if d.name == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (d dialect) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// timeValue scans a timestamp stored either natively or as text.
type timeValue struct {
	t *time.Time
}

func (v timeValue) Scan(src any) error {
	switch val := src.(type) {
	case time.Time:
		*v.t = val.UTC()
		return nil
	case string:
		return v.parse(val)
	case []byte:
		return v.parse(string(val))
	case int64:
		*v.t = time.Unix(val, 0).UTC()
		return nil
	case nil:
		*v.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func (v timeValue) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			*v.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: cannot parse %s", strconv.Quote(s))
}
