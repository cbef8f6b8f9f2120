// Package config loads server and client settings from the environment.
// A .env file in the working directory is read first; variables already set
// in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Avicted/roomchat/internal/chatsync"
	"github.com/Avicted/roomchat/internal/storage"
	"github.com/Avicted/roomchat/internal/subscription"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultListenAddr = ":8080"
	defaultSQLitePath = "./data/roomchat.db"
	defaultServerURL  = "http://localhost:8080"
)

type ServerConfig struct {
	ListenAddr  string
	DBDriver    string
	DBURL       string
	SQLitePath  string
	TLSCertPath string
	TLSKeyPath  string
	LogLevel    logrus.Level
	Env         string
}

func LoadServerFromEnv() (ServerConfig, error) {
	loadDotEnv()

	cfg := ServerConfig{
		ListenAddr:  getEnv("ROOMCHAT_LISTEN_ADDR", defaultListenAddr),
		DBDriver:    strings.ToLower(getEnv("ROOMCHAT_DB_DRIVER", storage.DriverPostgres)),
		DBURL:       os.Getenv("ROOMCHAT_DB_URL"),
		SQLitePath:  getEnv("ROOMCHAT_SQLITE_PATH", defaultSQLitePath),
		TLSCertPath: os.Getenv("ROOMCHAT_TLS_CERT"),
		TLSKeyPath:  os.Getenv("ROOMCHAT_TLS_KEY"),
		Env:         strings.ToLower(getEnv("ROOMCHAT_ENV", EnvDevelopment)),
	}

	level, err := parseLevel(os.Getenv("ROOMCHAT_LOG_LEVEL"))
	if err != nil {
		return ServerConfig{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func (c ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	switch c.DBDriver {
	case storage.DriverPostgres:
		if c.DBURL == "" {
			return errors.New("db url is required for postgres")
		}
	case storage.DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		return errors.New("both tls cert and key are required when enabling tls")
	}
	return nil
}

func (c ServerConfig) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c ServerConfig) StorageOptions() storage.Options {
	return storage.Options{
		Driver:     c.DBDriver,
		URL:        c.DBURL,
		SQLitePath: c.SQLitePath,
	}
}

type ClientConfig struct {
	ServerURL    string
	Email        string
	Password     string
	HistoryLimit int
	Subscription subscription.Config
	LogLevel     logrus.Level
}

func LoadClientFromEnv() (ClientConfig, error) {
	loadDotEnv()

	sub := subscription.DefaultConfig()
	cfg := ClientConfig{
		ServerURL:    strings.TrimRight(getEnv("ROOMCHAT_SERVER_URL", defaultServerURL), "/"),
		Email:        os.Getenv("ROOMCHAT_EMAIL"),
		Password:     os.Getenv("ROOMCHAT_PASSWORD"),
		HistoryLimit: chatsync.DefaultHistoryLimit,
	}

	var err error
	if sub.SettleDelay, err = durationEnv("ROOMCHAT_SETTLE_DELAY", sub.SettleDelay); err != nil {
		return ClientConfig{}, err
	}
	if sub.RetryDelay, err = durationEnv("ROOMCHAT_RETRY_DELAY", sub.RetryDelay); err != nil {
		return ClientConfig{}, err
	}
	if sub.MaxAttempts, err = intEnv("ROOMCHAT_MAX_ATTEMPTS", sub.MaxAttempts); err != nil {
		return ClientConfig{}, err
	}
	if cfg.HistoryLimit, err = intEnv("ROOMCHAT_HISTORY_LIMIT", cfg.HistoryLimit); err != nil {
		return ClientConfig{}, err
	}
	cfg.Subscription = sub

	if cfg.LogLevel, err = parseLevel(os.Getenv("ROOMCHAT_LOG_LEVEL")); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return errors.New("server url must start with http:// or https://")
	}
	if c.HistoryLimit < 1 {
		return errors.New("history limit must be positive")
	}
	if c.Subscription.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.Subscription.SettleDelay < 0 || c.Subscription.RetryDelay < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}

// SyncConfig is the engine configuration derived from c.
func (c ClientConfig) SyncConfig() chatsync.Config {
	return chatsync.Config{
		HistoryLimit: c.HistoryLimit,
		Subscription: c.Subscription,
	}
}

func loadDotEnv() {
	_ = godotenv.Load()
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLevel(v string) (logrus.Level, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(v)
	if err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
