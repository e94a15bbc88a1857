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
	"strconv"
	"syscall"

	"teststability/internal/history"
	"teststability/internal/project"
	"teststability/internal/scm"
	"teststability/internal/security"
	"teststability/internal/server"
	"teststability/pkg/fileutil"

	"github.com/spf13/cobra"
)

const (
	configFileName = "jobs.yaml"
	defaultDBPath  = "./teststability.db"
)

var (
	configFile    string
	logFile       string
	dbPath        string
	host          string
	port          int
	testMode      bool
	watchConfig   bool
	githubAPIURL  string
	logLevelDebug bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the report server",
	Long: `Start the HTTP server that receives JUnit reports from CI.

Each job in jobs.yaml gets a POST /in/{job} endpoint. Reports must be signed with
the job secret (X-Hub-Signature-256). Stability data is served under /status/{job}.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("TESTSTABILITY_CONFIG_FILE", ""), "Path to jobs.yaml configuration file")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("TESTSTABILITY_LOG_FILE", "./teststability.log"), "Path to log file")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("TESTSTABILITY_DB_PATH", defaultDBPath), "Path to SQLite database")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("TESTSTABILITY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("TESTSTABILITY_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", getEnvOrDefaultBool("TESTSTABILITY_TEST_MODE", false), "Disable rate limiting")
	serveCmd.Flags().BoolVar(&watchConfig, "watch", getEnvOrDefaultBool("TESTSTABILITY_WATCH_CONFIG", true), "Reload jobs.yaml when it changes")
	serveCmd.Flags().StringVar(&githubAPIURL, "github-api-url", getEnvOrDefault("TESTSTABILITY_GITHUB_API_URL", ""), "GitHub API base URL (for GitHub Enterprise)")
	serveCmd.Flags().BoolVar(&logLevelDebug, "debug", false, "Enable debug logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigFile(configFile)
	if err != nil {
		return err
	}
	configFile = path

	level := slog.LevelInfo
	if logLevelDebug {
		level = slog.LevelDebug
	}
	logger, logFileHandle, err := setupLogging(logFile, level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting teststability", "version", version)

	// The job file holds signing secrets.
	if err := security.ValidateSecurePermissions(configFile); err != nil {
		logger.Warn("Insecure configuration file permissions", "config", configFile, "error", err)
	}

	logger.Info("Loading configuration", "config", configFile)
	_, jobs, err := project.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("Configuration validated successfully", "count", len(jobs))
	if len(jobs) == 0 {
		logger.Warn("No jobs configured in config file", "config", configFile)
		logger.Warn("The server will start but will reject reports until jobs are added")
	}

	registry := project.NewRegistry(jobs)

	logger.Info("Initializing history database", "db", dbPath)
	store, err := openStore(dbPath)
	if err != nil {
		logger.Error("Failed to initialize history database", "error", err)
		return err
	}

	var commits scm.CommitLookup
	token := os.Getenv(scm.TokenEnv)
	if token != "" || githubAPIURL != "" {
		gh, err := scm.NewGitHub(token, githubAPIURL)
		if err != nil {
			store.Close()
			return err
		}
		commits = gh
		logger.Info("Commit lookup enabled", "authenticated", token != "")
	}

	srv := server.NewServer(registry, store, commits, logger, testMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchConfig {
		go func() {
			if err := project.Watch(ctx, configFile, registry, logger); err != nil {
				logger.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(host, port)
	}()

	select {
	case err := <-errCh:
		store.Close()
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// resolveConfigFile returns path, or the first jobs.yaml found in the
// default locations when path is empty.
func resolveConfigFile(path string) (string, error) {
	if path != "" {
		if !fileutil.FileExists(path) {
			return "", fmt.Errorf("configuration file %s not found", path)
		}
		return path, nil
	}

	if found, err := fileutil.FindConfig(configFileName); err == nil {
		return found, nil
	}

	fmt.Fprintf(os.Stderr, "No configuration file found in default locations:\n")
	for _, p := range fileutil.DefaultConfigPaths(configFileName) {
		fmt.Fprintf(os.Stderr, "  - %s\n", p)
	}
	fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
	return "", errors.New("configuration file not found")
}

// openStore opens the history database, creating it with restrictive
// permissions first.
func openStore(path string) (*history.Store, error) {
	if dir := filepath.Dir(path); !fileutil.DirExists(dir) {
		if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
			return nil, err
		}
	}
	if err := security.PrepareFile(path, security.PermDBFile); err != nil {
		return nil, fmt.Errorf("failed to prepare history database: %w", err)
	}
	store, err := history.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	return store, nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string, level slog.Level) (*slog.Logger, *os.File, error) {
	file, err := security.OpenAppendFile(logPath, security.PermLogFile)
	if err != nil {
		return nil, nil, err
	}

	// Log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(handler), file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
