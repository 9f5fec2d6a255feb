package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-repertoire/internal/domain"
)

// MemoryRepository keeps everything in process. Used when no database is
// configured and in tests.
type MemoryRepository struct {
	mu sync.RWMutex

	repertoires map[string]*domain.Repertoire
	sessions    map[string]*domain.PracticeSession
	byUser      map[string][]string // user id -> session ids, oldest first
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		repertoires: make(map[string]*domain.Repertoire),
		sessions:    make(map[string]*domain.PracticeSession),
		byUser:      make(map[string][]string),
	}
}

func (m *MemoryRepository) SaveRepertoire(_ context.Context, rep *domain.Repertoire) error {
	if rep == nil || strings.TrimSpace(rep.ID) == "" {
		return fmt.Errorf("repertoire id required")
	}
	now := time.Now().UTC()
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = now
	}
	rep.UpdatedAt = now
	copied := *rep
	copied.Openings = append([]domain.OpeningLine(nil), rep.Openings...)

	m.mu.Lock()
	m.repertoires[rep.ID] = &copied
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) LoadRepertoire(_ context.Context, id string) (*domain.Repertoire, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.repertoires[id]
	if !ok {
		return nil, fmt.Errorf("repertoire %q: %w", id, ErrNotFound)
	}
	copied := *rep
	copied.Openings = append([]domain.OpeningLine(nil), rep.Openings...)
	return &copied, nil
}

func (m *MemoryRepository) ListRepertoires(_ context.Context, userID string) ([]RepertoireSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RepertoireSummary, 0)
	for _, rep := range m.repertoires {
		if rep.UserID == userID {
			out = append(out, summarize(rep))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) CreateSession(_ context.Context, s *domain.PracticeSession) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	m.byUser[s.UserID] = append(m.byUser[s.UserID], s.ID)
	return nil
}

func (m *MemoryRepository) PersistMove(_ context.Context, sessionID string, move domain.PracticeMove) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	for _, existing := range s.Moves {
		if existing.Seq == move.Seq {
			return fmt.Errorf("session %s seq %d: %w", sessionID, move.Seq, ErrDuplicateMove)
		}
	}
	s.Moves = append(s.Moves, domain.CloneMoves([]domain.PracticeMove{move})...)
	sort.Slice(s.Moves, func(i, j int) bool { return s.Moves[i].Seq < s.Moves[j].Seq })
	return nil
}

func (m *MemoryRepository) PersistSessionEnd(_ context.Context, sessionID string, result domain.SessionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	ended := result.EndedAt
	s.EndedAt = &ended
	s.Stats = result.Stats
	s.CompletionReason = result.Reason
	s.Failed = result.Failed
	s.FailureReason = result.FailureReason
	return nil
}

func (m *MemoryRepository) GetSession(_ context.Context, id string) (*domain.PracticeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryRepository) RecentSessions(_ context.Context, userID string, limit int) ([]*domain.PracticeSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[userID]
	items := make([]*domain.PracticeSession, 0, len(ids))
	for _, id := range ids {
		s := m.sessions[id].Clone()
		s.Moves = nil
		items = append(items, s)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].StartedAt.Equal(items[j].StartedAt) {
			return items[i].StartedAt.After(items[j].StartedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
