package main

import (
	"fmt"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent transcription sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadLocalConfig()
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.TranscribeUserID
			}
			injector := setupDI(cfg)
			defer shutdownDI(injector)
			repo, err := do.Invoke[repository.Repository](injector)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			loc, err := time.LoadLocation(cfg.TranscriptTimezone)
			if err != nil {
				return fmt.Errorf("invalid transcript timezone: %w", err)
			}

			sessions, err := repo.ListRecentSessions(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions recorded")
				return nil
			}
			for i, s := range sessions {
				segments, err := repo.ListSegmentsBySessionID(cmd.Context(), s.ID)
				if err != nil {
					return fmt.Errorf("failed to list segments for %s: %w", s.ID, err)
				}
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprintln(cmd.OutOrStdout(), session.FormatTranscript(s, segments, cfg.TranscriptTimezone, loc))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only sessions of this user (default TRANSCRIBE_USER_ID, empty for all)")
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultHistoryLimit, "maximum number of sessions")
	return cmd
}
