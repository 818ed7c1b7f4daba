package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	clientcmd "github.com/theinterneti/courier/internal/cmd/client"
	serverrun "github.com/theinterneti/courier/internal/cmd/server"
	cfgpkg "github.com/theinterneti/courier/internal/config"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	logpkg "github.com/theinterneti/courier/pkg/log"
)

func main() {
	// Respect COURIER_LOG_LEVEL for CLI and server start output
	level := os.Getenv("COURIER_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Courier delivery runtime CLI",
		Long:  "Courier is a single-binary reliable message delivery runtime for multi-agent systems. This CLI manages the server and message operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start courier server (HTTP API)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			cfgpkg.FromEnv(&cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if logLevel != "" {
				_ = os.Setenv("COURIER_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("COURIER_LOG_FORMAT", logFormat)
			}
			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address")
	serverStartCmd.Flags().String("config", "", "Config file path (JSON or YAML)")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("COURIER_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("COURIER_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client command groups
	rootCmd.AddCommand(
		clientcmd.NewMessageCommand(apiURL),
		clientcmd.NewSubscribeCommand(apiURL),
		clientcmd.NewDLQCommand(apiURL),
		clientcmd.NewAdminCommand(apiURL),
		clientcmd.NewStatsCommand(apiURL),
		clientcmd.NewAuditCommand(apiURL),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("COURIER_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
