package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/Avicted/roomchat/internal/config"
)

type programRunner interface {
	Run() (tea.Model, error)
}

type programFactory func(tea.Model, ...tea.ProgramOption) programRunner

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, newProgram programFactory) error {
	cfg, err := config.LoadClientFromEnv()
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("roomchat", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", cfg.ServerURL, "roomchat server URL")
	email := fs.String("email", cfg.Email, "account email to prefill")
	logFile := fs.String("log-file", "", "write client logs to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.Changed("server") {
		cfg.ServerURL = strings.TrimRight(strings.TrimSpace(*serverURL), "/")
	}
	if fs.Changed("email") {
		cfg.Email = strings.TrimSpace(*email)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(*logFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	app := newChatApp(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.start(ctx); err != nil {
		return fmt.Errorf("start chat: %w", err)
	}
	defer app.stop()

	m := newRootModel(app, cfg.ServerURL, cfg.Email, cfg.Password)

	if newProgram == nil {
		newProgram = func(model tea.Model, options ...tea.ProgramOption) programRunner {
			return tea.NewProgram(model, options...)
		}
	}

	p := newProgram(m, tea.WithAltScreen(), tea.WithInput(stdin), tea.WithOutput(stdout))
	_, err = p.Run()
	return err
}

// newLogger keeps logs off the terminal the TUI draws on.
func newLogger(path string, level logrus.Level) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	if path == "" {
		logger.SetOutput(io.Discard)
		return logger, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return logger, func() { _ = f.Close() }, nil
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
