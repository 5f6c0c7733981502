package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id::text, backend_session_id, user_id, status::text, result_text, error_detail,
	chunk_count, dropped_chunks, path, started_at, ended_at, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

// Shutdown closes the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}

// SaveSession writes the session row and its segments in one transaction.
func (r *PostgresRepository) SaveSession(ctx context.Context, input repository.SaveSessionInput) (*repository.Session, error) {
	var s *repository.Session
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO transcription_sessions
			 (backend_session_id, user_id, status, result_text, error_detail, chunk_count, dropped_chunks, path, started_at, ended_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING `+sessionColumns,
			input.BackendSessionID, input.UserID, string(input.Status), input.ResultText, input.ErrorDetail,
			input.ChunkCount, input.DroppedChunks, input.Path, input.StartedAt, input.EndedAt)
		saved, err := scanSession(row)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		for _, seg := range input.Segments {
			if _, err := tx.Exec(ctx,
				`INSERT INTO transcript_segments (session_id, content, segment_index, spoken_at)
				 VALUES ($1, $2, $3, $4)`,
				saved.ID, seg.Content, seg.SegmentIndex, seg.SpokenAt); err != nil {
				return fmt.Errorf("insert segment %d: %w", seg.SegmentIndex, err)
			}
		}
		s = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) ListRecentSessions(ctx context.Context, userID string, limit int) ([]repository.Session, error) {
	if limit <= 0 {
		limit = repository.DefaultHistoryLimit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM transcription_sessions WHERE ($1 = '' OR user_id = $1)
		 ORDER BY started_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, session_id::text, content, segment_index, spoken_at, created_at
		 FROM transcript_segments WHERE session_id = $1 ORDER BY segment_index ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Content, &seg.SegmentIndex, &seg.SpokenAt, &seg.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, seg)
	}
	return list, rows.Err()
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var status string
	err := row.Scan(&s.ID, &s.BackendSessionID, &s.UserID, &status, &s.ResultText, &s.ErrorDetail,
		&s.ChunkCount, &s.DroppedChunks, &s.Path, &s.StartedAt, &s.EndedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	s.Status = repository.SessionStatus(status)
	s.DurationSeconds = int64(s.EndedAt.Sub(s.StartedAt).Seconds())
	return &s, nil
}
