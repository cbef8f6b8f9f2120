package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

const (
	containerReadyTimeout = 30 * time.Second
	pingTimeout           = 2 * time.Second
	pingInterval          = 500 * time.Millisecond
)

// waitForPostgres polls conn until the server accepts queries. The
// container log line can appear before the listener is reachable.
func waitForPostgres(t *testing.T, conn string) {
	t.Helper()
	deadline := time.Now().Add(containerReadyTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = pingOnce(postgresDialect.sqlDriver(), conn); lastErr == nil {
			return
		}
		time.Sleep(pingInterval)
	}
	t.Fatalf("postgres not ready after %s: %v", containerReadyTimeout, lastErr)
}

func pingOnce(driver, conn string) error {
	db, err := sql.Open(driver, conn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx)
}
