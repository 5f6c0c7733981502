package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps history for the lifetime of the process. It is used
// when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions []repository.Session
	segments map[string][]repository.TranscriptSegment
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		segments: make(map[string][]repository.TranscriptSegment),
		now:      time.Now,
	}
}

func (r *MemoryRepository) SaveSession(_ context.Context, input repository.SaveSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s := repository.Session{
		ID:               uuid.NewString(),
		BackendSessionID: input.BackendSessionID,
		UserID:           input.UserID,
		Status:           input.Status,
		ResultText:       input.ResultText,
		ErrorDetail:      input.ErrorDetail,
		ChunkCount:       input.ChunkCount,
		DroppedChunks:    input.DroppedChunks,
		Path:             input.Path,
		StartedAt:        input.StartedAt,
		EndedAt:          input.EndedAt,
		DurationSeconds:  input.DurationSeconds(),
		CreatedAt:        now,
	}
	r.sessions = append(r.sessions, s)

	segs := make([]repository.TranscriptSegment, 0, len(input.Segments))
	for _, seg := range input.Segments {
		segs = append(segs, repository.TranscriptSegment{
			ID:           uuid.NewString(),
			SessionID:    s.ID,
			Content:      seg.Content,
			SegmentIndex: seg.SegmentIndex,
			SpokenAt:     seg.SpokenAt,
			CreatedAt:    now,
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].SegmentIndex < segs[j].SegmentIndex })
	r.segments[s.ID] = segs
	return &s, nil
}

func (r *MemoryRepository) ListRecentSessions(_ context.Context, userID string, limit int) ([]repository.Session, error) {
	if limit <= 0 {
		limit = repository.DefaultHistoryLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []repository.Session
	for _, s := range r.sessions {
		if userID == "" || s.UserID == userID {
			list = append(list, s)
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartedAt.After(list[j].StartedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemoryRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	segs, ok := r.segments[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]repository.TranscriptSegment(nil), segs...), nil
}
