package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	wavTapQueueSize        = 64
	metricsShutdownTimeout = 5 * time.Second
)

var errCancelled = errors.New("transcription cancelled")

type recordOptions struct {
	userID   string
	wavPath  string
	duration time.Duration
	meter    bool
}

func newRecordCmd() *cobra.Command {
	var opts recordOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the default input device and print the transcription",
		Long: `Record streams microphone audio to the transcription backend until
Ctrl+C is pressed or --duration elapses, then waits for the result.
Pressing Ctrl+C again while the result is pending cancels the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.userID == "" {
				opts.userID = cfg.TranscribeUserID
			}
			if opts.userID == "" {
				return errors.New("a user id is required: pass --user or set TRANSCRIBE_USER_ID")
			}
			return runRecord(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id to transcribe as (default TRANSCRIBE_USER_ID)")
	cmd.Flags().StringVar(&opts.wavPath, "wav", "", "also write the converted audio to this WAV file")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop recording after this long (0 waits for Ctrl+C)")
	cmd.Flags().BoolVar(&opts.meter, "meter", false, "show an input level meter on stderr")
	return cmd
}

func runRecord(parent context.Context, out, errOut io.Writer, cfg *config.Config, opts recordOptions) error {
	injector := setupDI(cfg)
	defer shutdownDI(injector)
	coord, err := do.Invoke[*session.Coordinator](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve session coordinator: %w", err)
	}
	engine, err := do.Invoke[*audio.Engine](injector)
	if err != nil {
		return fmt.Errorf("failed to resolve audio engine: %w", err)
	}
	m := do.MustInvoke[*metrics.Metrics](injector)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		serveMetrics(gctx, g, cfg.MetricsAddr, m)
	}

	recordErr := record(gctx, out, errOut, coord, engine, opts)
	cancel()
	if err := g.Wait(); err != nil && recordErr == nil {
		recordErr = err
	}
	return recordErr
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func record(ctx context.Context, out, errOut io.Writer, coord *session.Coordinator, engine *audio.Engine, opts recordOptions) error {
	var tap *audioimpl.WAVTap
	if opts.wavPath != "" {
		t, err := audioimpl.NewWAVTap(opts.wavPath, wavTapQueueSize)
		if err != nil {
			return err
		}
		tap = t
		defer func() {
			if err := tap.Close(); err != nil {
				slog.Error("failed to close wav file", "path", opts.wavPath, "error", err)
			}
			slog.Info("wav file written", "path", opts.wavPath, "frames", tap.Frames(), "dropped_chunks", tap.Dropped())
		}()
	}

	engine.OnChunk(func(c audio.Chunk) {
		coord.Offer(c)
		if tap != nil {
			tap.Write(c)
		}
	})
	stopMeter := func() {}
	if opts.meter {
		meter := newLevelMeter(meterWidth)
		engine.OnAmplitude(meter.Set)
		stopMeter = meter.start(ctx, errOut, meterInterval)
	}
	defer stopMeter()

	events, unsubscribe := coord.Subscribe(64)
	defer unsubscribe()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := coord.Start(ctx, opts.userID); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	if err := engine.Start(); err != nil {
		if cancelErr := coord.Cancel(); cancelErr != nil {
			slog.Warn("failed to cancel session", "error", cancelErr)
		}
		return fmt.Errorf("failed to start audio capture: %w", err)
	}
	defer engine.Stop()

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	fmt.Fprintf(errOut, "recording as %s; press Ctrl+C to finish\n", opts.userID)
	if err := waitRecording(ctx, errOut, events, sigCh, timeout); err != nil {
		return err
	}
	engine.Stop()
	stopMeter()

	if err := coord.Finish(ctx); err != nil {
		if s := coord.Snapshot(); s.State == session.StateError {
			return fmt.Errorf("transcription failed: %s", s.ErrorDetail)
		}
		return fmt.Errorf("failed to finish session: %w", err)
	}
	fmt.Fprintln(errOut, "processing; press Ctrl+C again to cancel")

	result, err := waitResult(ctx, errOut, coord, events, sigCh)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result)
	return nil
}

func waitRecording(ctx context.Context, errOut io.Writer, events <-chan session.Event, sigCh <-chan os.Signal, timeout <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigCh:
			return nil
		case <-timeout:
			return nil
		case ev := <-events:
			printEvent(errOut, ev)
		}
	}
}

func waitResult(ctx context.Context, errOut io.Writer, coord *session.Coordinator, events <-chan session.Event, sigCh <-chan os.Signal) (string, error) {
	for {
		if s := coord.Snapshot(); s.State.IsTerminal() {
			return terminalResult(coord, s)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-sigCh:
			if err := coord.Cancel(); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
				return "", err
			}
			return "", errCancelled
		case ev := <-events:
			if ev.Kind == session.EventStateChanged && ev.Session.State.IsTerminal() {
				return terminalResult(coord, ev.Session)
			}
			printEvent(errOut, ev)
		}
	}
}

func terminalResult(coord *session.Coordinator, s session.Session) (string, error) {
	if err := coord.Acknowledge(); err != nil {
		slog.Debug("session already acknowledged", "error", err)
	}
	if s.State == session.StateError {
		return "", fmt.Errorf("transcription failed: %s", s.ErrorDetail)
	}
	return s.ResultText, nil
}

func printEvent(w io.Writer, ev session.Event) {
	switch ev.Kind {
	case session.EventPartialResult:
		fmt.Fprintf(w, "… %s\n", ev.Text)
	case session.EventTransportFallback:
		fmt.Fprintf(w, "channel unavailable, uploading over REST: %v\n", ev.Err)
	case session.EventUploadFailed:
		slog.Warn("chunk upload failed", "session_id", ev.Session.ID, "error", ev.Err)
	}
}
