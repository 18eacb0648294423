// Package main is the entry point for the journal server.
//
// The main package is kept minimal. Its job is to:
//  1. Read configuration (YAML file and environment)
//  2. Build the logger
//  3. Start the server and stop it on SIGINT/SIGTERM
//
// All actual logic lives in internal/.
//
// Usage:
//
//	server -config journal.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/config"
	"github.com/sakif/journal/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	// === 1. CONFIGURATION ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	logger := newLogger(os.Stderr, cfg.Level())
	slog.SetDefault(logger)

	// === 3. COOKIE SECRET ===
	// Without a configured secret every restart signs cookies with a new
	// key, which logs everybody out. Fine for local dev only.
	if cfg.Cookie.Secret == "" {
		secret, err := auth.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generating cookie secret: %w", err)
		}
		cfg.Cookie.Secret = secret
		logger.Warn("JOURNAL_COOKIE_SECRET not set; using a random secret, sessions will not survive a restart")
	}
	if !cfg.GitHubEnabled() {
		logger.Info("GitHub login disabled (GITHUB_CLIENT_ID not set)")
	}

	// === 4. DATABASE DIRECTORY ===
	// SQLite creates the file but not its directory.
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN != ":memory:" {
		dir := filepath.Dir(cfg.Database.DSN)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	// === 5. START ===
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// newLogger writes colourised logs when w is a terminal and plain ones
// otherwise (files, journald, docker logs).
func newLogger(w *os.File, level slog.Level) *slog.Logger {
	var out io.Writer = w
	noColor := !isatty.IsTerminal(w.Fd()) && !isatty.IsCygwinTerminal(w.Fd())
	if !noColor {
		out = colorable.NewColorable(w)
	}
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}
