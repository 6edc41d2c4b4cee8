// Skiff is a conversational assistant backend. Authenticated users chat
// with an OpenAI model that can browse and read their files in Google
// Drive and Dropbox through tool calls.
//
// Usage:
//
//	skiff serve              Start the API server
//	skiff init [dir]         Write an example config file
//	skiff version            Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"skiff/examples"
	"skiff/internal/agent"
	"skiff/internal/api"
	"skiff/internal/auth"
	"skiff/internal/buildinfo"
	"skiff/internal/config"
	"skiff/internal/history"
	"skiff/internal/llm"
	"skiff/internal/storage"
)

// main constructs the OS-level environment and delegates to run, which
// keeps os.Exit and os.Args out of the application logic so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		case !strings.HasPrefix(args[i], "-"):
			cmdArgs = append(cmdArgs, args[i])
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "", "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `skiff - chat with your Google Drive and Dropbox files

Usage:
  skiff [flags] <command>

Commands:
  serve       Start the API server
  init [dir]  Write an example config file to dir (default .)
  version     Print version and build information
  help        Show this help

Flags:
  -config <path>   Config file (default: search %s)
`, strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runInit writes the example config to dir without overwriting an
// existing one.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "skiff.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	if err := os.WriteFile(path, examples.ConfigYAML, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Wrote %s - fill in your API credentials and run 'skiff serve'\n", path)
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting skiff",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	slog.SetDefault(logger)
	logger.Info("config loaded", "path", path, "port", cfg.Listen.Port, "model", cfg.OpenAI.Model)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "skiff.db")
	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("database opened", "path", dbPath)

	authSvc := auth.NewService(store, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	model, err := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens)
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	drive := storage.NewDriveAdapter(storage.DriveCredentials{
		ClientID:     cfg.Drive.ClientID,
		ClientSecret: cfg.Drive.ClientSecret,
		RefreshToken: cfg.Drive.RefreshToken,
	})
	dropbox := storage.NewDropboxAdapter(cfg.Dropbox.AccessToken)

	prompt, err := agent.LoadSystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return err
	}

	invoker := agent.NewInvoker(drive, dropbox, storage.NewFolderCache(), logger)
	orch := agent.NewOrchestrator(model, invoker, agent.NewCatalog(), prompt, cfg.Agent.MaxIterations, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, authSvc, store, orch, cfg.Auth.SecureCookies, logger)

	// SIGINT/SIGTERM trigger graceful shutdown.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
