package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/svdb-hotmail/domscribr/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "domscribr",
	Short: "domscribr captures chat transcripts from live HTML documents",
	Long: `domscribr watches a chat page's document, extracts each message once and
aggregates the messages per document context over NATS.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

// loadConfig reads configuration and installs the JSON logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
