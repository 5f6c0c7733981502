package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPostgres connects to TEST_DATABASE_URL and migrates it. Rows are
// written under a fresh user id and removed when the test ends.
func newTestPostgres(t *testing.T) (*PostgresRepository, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := RunMigration(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	// Running twice must be harmless.
	if err := RunMigration(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("second migration: %v", err)
	}

	userID := "test-" + uuid.NewString()
	r := &PostgresRepository{pool: pool}
	t.Cleanup(func() {
		if _, err := pool.Exec(context.Background(), `DELETE FROM transcription_sessions WHERE user_id = $1`, userID); err != nil {
			t.Errorf("cleanup: %v", err)
		}
		r.Shutdown()
	})
	return r, userID
}

func TestPostgresRepository_SaveAndListSegments(t *testing.T) {
	r, userID := newTestPostgres(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	saved, err := r.SaveSession(ctx, repository.SaveSessionInput{
		BackendSessionID: "backend-1",
		UserID:           userID,
		Status:           repository.SessionStatusCompleted,
		ResultText:       "hello world",
		ChunkCount:       3,
		DroppedChunks:    1,
		Path:             "channel",
		StartedAt:        start,
		EndedAt:          start.Add(90 * time.Second),
		Segments: []repository.SegmentInput{
			{Content: "world", SegmentIndex: 1, SpokenAt: start.Add(time.Minute)},
			{Content: "hello", SegmentIndex: 0, SpokenAt: start.Add(time.Second)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := uuid.Parse(saved.ID); err != nil {
		t.Fatalf("expected a uuid id, got %q", saved.ID)
	}
	if saved.Status != repository.SessionStatusCompleted || saved.DurationSeconds != 90 || saved.DroppedChunks != 1 {
		t.Fatalf("unexpected saved session %+v", saved)
	}

	segs, err := r.ListSegmentsBySessionID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 || segs[0].Content != "hello" || segs[1].Content != "world" {
		t.Fatalf("expected segments ordered by index, got %+v", segs)
	}
	if segs[0].SessionID != saved.ID || !segs[0].SpokenAt.Equal(start.Add(time.Second)) {
		t.Fatalf("unexpected first segment %+v", segs[0])
	}
}

func TestPostgresRepository_DuplicateSegmentIndexRollsBack(t *testing.T) {
	r, userID := newTestPostgres(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	_, err := r.SaveSession(ctx, repository.SaveSessionInput{
		BackendSessionID: "backend-dup",
		UserID:           userID,
		Status:           repository.SessionStatusCompleted,
		Path:             "channel",
		StartedAt:        start,
		EndedAt:          start.Add(time.Second),
		Segments: []repository.SegmentInput{
			{Content: "a", SegmentIndex: 0, SpokenAt: start},
			{Content: "b", SegmentIndex: 0, SpokenAt: start},
		},
	})
	if err == nil {
		t.Fatal("expected duplicate segment index to fail")
	}
	list, err := r.ListRecentSessions(ctx, userID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected the session insert to be rolled back, got %+v", list)
	}
}

func TestPostgresRepository_ListRecentSessions(t *testing.T) {
	r, userID := newTestPostgres(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := r.SaveSession(ctx, repository.SaveSessionInput{
			BackendSessionID: uuid.NewString(),
			UserID:           userID,
			Status:           repository.SessionStatusFailed,
			ErrorDetail:      "timed out",
			Path:             "rest",
			StartedAt:        base.Add(time.Duration(i) * time.Hour),
			EndedAt:          base.Add(time.Duration(i)*time.Hour + time.Minute),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	list, err := r.ListRecentSessions(ctx, userID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected limit to apply, got %d sessions", len(list))
	}
	if !list[0].StartedAt.Equal(base.Add(2*time.Hour)) || !list[1].StartedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected newest first, got %s then %s", list[0].StartedAt, list[1].StartedAt)
	}
	if list[0].Status != repository.SessionStatusFailed || list[0].ErrorDetail != "timed out" {
		t.Fatalf("unexpected session %+v", list[0])
	}

	other, err := r.ListRecentSessions(ctx, "nobody-"+uuid.NewString(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no sessions for another user, got %d", len(other))
	}
}
