package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Avicted/roomchat/internal/config"
	"github.com/Avicted/roomchat/internal/storage"
)

var serverEnvKeys = []string{
	"ROOMCHAT_LISTEN_ADDR",
	"ROOMCHAT_DB_DRIVER",
	"ROOMCHAT_DB_URL",
	"ROOMCHAT_SQLITE_PATH",
	"ROOMCHAT_TLS_CERT",
	"ROOMCHAT_TLS_KEY",
	"ROOMCHAT_LOG_LEVEL",
	"ROOMCHAT_ENV",
}

func clearServerEnv(t *testing.T) {
	t.Helper()
	for _, key := range serverEnvKeys {
		t.Setenv(key, "")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen for free port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func sqliteCfg(t *testing.T) config.ServerConfig {
	t.Helper()
	return config.ServerConfig{
		ListenAddr: freeAddr(t),
		DBDriver:   storage.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "chat.db"),
		LogLevel:   logrus.InfoLevel,
	}
}

func openMigrated(t *testing.T, cfg config.ServerConfig) *storage.SQLStore {
	t.Helper()
	store, err := storage.Open(context.Background(), cfg.StorageOptions())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	var lastErr error
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server not ready: %v", lastErr)
}

func startServe(t *testing.T) (config.ServerConfig, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg := sqliteCfg(t)
	store := openMigrated(t, cfg)
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg, store, logger) }()
	t.Cleanup(cancel)

	waitForServer(t, cfg.ListenAddr)
	return cfg, cancel, errCh
}

func TestRun_FailsWithoutConfig(t *testing.T) {
	clearServerEnv(t)

	err := run(nil)
	if err == nil {
		t.Fatal("expected error for missing db url")
	}
	if !strings.Contains(err.Error(), "config invalid") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_FailsWithPartialTLS(t *testing.T) {
	clearServerEnv(t)
	t.Setenv("ROOMCHAT_DB_DRIVER", "sqlite")
	t.Setenv("ROOMCHAT_TLS_CERT", "/tmp/cert.pem")

	if err := run(nil); err == nil {
		t.Fatal("expected error for partial TLS")
	}
}

func TestRun_FailsWithBadDBURL(t *testing.T) {
	clearServerEnv(t)

	err := run([]string{"--db-url", "not-a-real-url"})
	if err == nil {
		t.Fatal("expected error for bad DB URL")
	}
	if !strings.Contains(err.Error(), "init store") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_RejectsUnknownFlag(t *testing.T) {
	clearServerEnv(t)
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Fatal("expected flag parse error")
	}
}

func TestApplyFlags_OverridesOnlyChanged(t *testing.T) {
	cfg := config.ServerConfig{
		ListenAddr: ":8080",
		DBDriver:   storage.DriverPostgres,
		DBURL:      "postgres://env",
		SQLitePath: "env.db",
		LogLevel:   logrus.InfoLevel,
	}
	err := applyFlags(&cfg, []string{"--db-driver", "sqlite", "--sqlite-path", "flag.db", "--log-level", "debug"})
	if err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.DBURL != "postgres://env" {
		t.Fatalf("unchanged fields overwritten: %+v", cfg)
	}
	if cfg.DBDriver != storage.DriverSQLite || cfg.SQLitePath != "flag.db" || cfg.LogLevel != logrus.DebugLevel {
		t.Fatalf("flags not applied: %+v", cfg)
	}

	if err := applyFlags(&cfg, []string{"--log-level", "loud"}); err == nil {
		t.Fatal("expected bad log level error")
	}
}

func TestNewLogger_FormatterByEnv(t *testing.T) {
	prod := newLogger(config.ServerConfig{Env: config.EnvProduction, LogLevel: logrus.WarnLevel})
	if _, ok := prod.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("production formatter = %T, want JSON", prod.Formatter)
	}
	if prod.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level = %v", prod.GetLevel())
	}

	dev := newLogger(config.ServerConfig{Env: config.EnvDevelopment, LogLevel: logrus.InfoLevel})
	if _, ok := dev.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("development formatter = %T, want text", dev.Formatter)
	}
}

func TestServerMainExitsOnRunError(t *testing.T) {
	if os.Getenv("ROOMCHAT_TEST_SERVER_MAIN_HELPER") == "1" {
		for _, key := range serverEnvKeys {
			_ = os.Unsetenv(key)
		}
		os.Args = []string{os.Args[0]}
		main()
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestServerMainExitsOnRunError")
	cmd.Env = append(os.Environ(), "ROOMCHAT_TEST_SERVER_MAIN_HELPER=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected subprocess exit error, got %v", err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(stderr.String(), "fatal: server error") {
		t.Fatalf("expected fatal server error in stderr, got %q", stderr.String())
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	_, cancel, errCh := startServe(t)

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return within timeout")
	}
}

func TestServe_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	cfg := sqliteCfg(t)
	cfg.ListenAddr = l.Addr().String()
	store := openMigrated(t, cfg)
	logger, _ := test.NewNullLogger()

	err = serve(context.Background(), cfg, store, logger)
	if err == nil || !strings.Contains(err.Error(), "server failed") {
		t.Fatalf("serve() error = %v, want listen failure", err)
	}
}

func TestServe_RoutesRegistered(t *testing.T) {
	cfg, _, _ := startServe(t)
	base := fmt.Sprintf("http://%s", cfg.ListenAddr)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/messages", http.StatusUnauthorized},
		{http.MethodPost, "/auth/login", http.StatusBadRequest},
		{http.MethodGet, "/ws?channel=x", http.StatusUnauthorized},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, base+tt.path, strings.NewReader("{}{}"))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tt.method, tt.path, err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServe_RegisterPostAndList(t *testing.T) {
	cfg, _, _ := startServe(t)
	base := fmt.Sprintf("http://%s", cfg.ListenAddr)

	body := `{"email":"ana@example.com","password":"password123"}`
	resp, err := http.Post(base+"/auth/register", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	var session struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || session.Token == "" {
		t.Fatalf("register status = %d token = %q", resp.StatusCode, session.Token)
	}

	req, _ := http.NewRequest(http.MethodPost, base+"/messages", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, base+"/messages", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Messages []struct {
			Username string `json:"username"`
			Message  string `json:"message"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 1 || list.Messages[0].Message != "hello" || list.Messages[0].Username != "ana" {
		t.Fatalf("messages = %+v", list.Messages)
	}
}
