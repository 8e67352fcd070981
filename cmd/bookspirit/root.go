package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/bookspirit/internal/config"
)

var (
	cfgDBPath   string
	cfgEnvFile  string
	cfgLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bookspirit",
	Short: "Book Spirit - reading companion for young readers",
	Long: `Book Spirit answers a child's messages about the book they are reading.

Each message is matched against quick patterns, classified by a language
model when needed, and routed to a capability: chatting about the book,
building or adjusting a reading plan, reporting progress, notes or
recommendations. Book questions try the knowledge-base agent first and
fall back to direct generation.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db", "", "Path to SQLite database (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&cfgEnvFile, "env-file", "", "Env file to load (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&cfgLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// setup loads the env file and installs the JSON logger. Logs go to stderr
// so stdout stays clean for command output and the MCP stdio transport.
func setup(cmd *cobra.Command, _ []string) error {
	if cfgEnvFile != "" {
		if err := godotenv.Load(cfgEnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", cfgEnvFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	level, err := parseLevel(cfgLogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	if cfgDBPath != "" {
		if err := os.Setenv("DB_PATH", cfgDBPath); err != nil {
			return nil, fmt.Errorf("set DB_PATH: %w", err)
		}
	}
	return config.Load()
}
