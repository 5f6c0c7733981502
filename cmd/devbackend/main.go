package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxseedlab/kikitori/external/devbackend"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	addr         string
	pendingPolls int
	apiToken     string
	debug        bool
)

var rootCmd = &cobra.Command{
	Use:          "devbackend",
	Short:        "Run a local transcription backend for development",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":4000", "listen address")
	rootCmd.Flags().IntVar(&pendingPolls, "pending-polls", 1, "status polls reported as processing after finish")
	rootCmd.Flags().StringVar(&apiToken, "token", os.Getenv("API_TOKEN"), "required bearer token (default API_TOKEN)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log every request")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := devbackend.New(devbackend.Options{PendingPolls: pendingPolls, APIToken: apiToken})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
