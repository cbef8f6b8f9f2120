package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/Avicted/roomchat/internal/auth"
	"github.com/Avicted/roomchat/internal/config"
	"github.com/Avicted/roomchat/internal/httpapi"
	"github.com/Avicted/roomchat/internal/message"
	"github.com/Avicted/roomchat/internal/securelog"
	"github.com/Avicted/roomchat/internal/storage"
	"github.com/Avicted/roomchat/internal/user"
	"github.com/Avicted/roomchat/internal/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		securelog.Error(logrus.StandardLogger(), "server.run", err)
		logrus.Error("fatal: server error")
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := applyFlags(&cfg, args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	logger := newLogger(cfg)

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := storage.Open(storeCtx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(ctx)
	}()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.WithField("driver", store.Driver()).Info("database ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, store, logger)
}

// applyFlags lets command line flags override the environment.
func applyFlags(cfg *config.ServerConfig, args []string) error {
	fs := pflag.NewFlagSet("roomchat-server", pflag.ContinueOnError)
	listen := fs.String("listen", cfg.ListenAddr, "address to listen on")
	driver := fs.String("db-driver", cfg.DBDriver, "database driver (postgres or sqlite)")
	dbURL := fs.String("db-url", cfg.DBURL, "postgres connection url")
	sqlitePath := fs.String("sqlite-path", cfg.SQLitePath, "sqlite database file")
	level := fs.String("log-level", cfg.LogLevel.String(), "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.Changed("listen") {
		cfg.ListenAddr = *listen
	}
	if fs.Changed("db-driver") {
		cfg.DBDriver = *driver
	}
	if fs.Changed("db-url") {
		cfg.DBURL = *dbURL
	}
	if fs.Changed("sqlite-path") {
		cfg.SQLitePath = *sqlitePath
	}
	if fs.Changed("log-level") {
		parsed, err := logrus.ParseLevel(*level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		cfg.LogLevel = parsed
	}
	return nil
}

func newLogger(cfg config.ServerConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(cfg.LogLevel)
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// serve runs the HTTP server until ctx ends.
func serve(ctx context.Context, cfg config.ServerConfig, store storage.Store, logger logrus.FieldLogger) error {
	userService := user.NewService(store.Users())
	authService := auth.NewService(userService)
	messageService := message.NewService(store.Messages())

	hub := ws.NewHub(authService, logger)
	go hub.Run(ctx)

	api := httpapi.NewHandler(authService, messageService, hub, logger)
	router := httpapi.NewRouter(api, hub.HandleWS)

	// No WriteTimeout: live channels stay open for the whole session.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			logger.WithField("addr", cfg.ListenAddr).Info("listening with TLS")
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
