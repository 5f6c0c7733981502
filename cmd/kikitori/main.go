package main

import (
	"fmt"
	"log/slog"
	"os"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	channelimpl "github.com/foxseedlab/kikitori/external/channel"
	configloader "github.com/foxseedlab/kikitori/external/config"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "kikitori",
	Short:         "Capture microphone audio and stream it to a transcription backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kikitori v%s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := configloader.Load()
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	initLogger(cfg)
	slog.Debug("configuration loaded", "env", cfg.Env, "backend_mode", cfg.BackendMode)
	return cfg, nil
}

// loadLocalConfig is for commands that never reach the backend, so the
// backend settings may be absent.
func loadLocalConfig() (*config.Config, error) {
	cfg, err := configloader.LoadLocal()
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	initLogger(cfg)
	return cfg, nil
}

// initLogger writes JSON logs to stderr so stdout carries only results.
func initLogger(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, metrics.New())
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	channelimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func shutdownDI(injector do.Injector) {
	if report := injector.Shutdown(); report != nil && len(report.Errors) > 0 {
		slog.Warn("dependency shutdown failed", "error", report.Error())
	}
}
