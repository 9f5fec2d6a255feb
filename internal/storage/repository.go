package storage

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-repertoire/internal/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicateMove = errors.New("practice move already recorded")
)

const defaultHistoryLimit = 10

// RepertoireSummary is the listing form of a repertoire.
type RepertoireSummary struct {
	ID        string
	UserID    string
	Name      string
	Color     domain.Color
	Openings  int
	UpdatedAt time.Time
}

// Repository stores repertoires and practice sessions. It also satisfies
// practice.Recorder.
type Repository interface {
	SaveRepertoire(ctx context.Context, rep *domain.Repertoire) error
	LoadRepertoire(ctx context.Context, id string) (*domain.Repertoire, error)
	ListRepertoires(ctx context.Context, userID string) ([]RepertoireSummary, error)

	CreateSession(ctx context.Context, session *domain.PracticeSession) error
	PersistMove(ctx context.Context, sessionID string, move domain.PracticeMove) error
	PersistSessionEnd(ctx context.Context, sessionID string, result domain.SessionResult) error
	GetSession(ctx context.Context, id string) (*domain.PracticeSession, error)
	// RecentSessions returns the newest sessions first, without their moves.
	RecentSessions(ctx context.Context, userID string, limit int) ([]*domain.PracticeSession, error)
}

func summarize(rep *domain.Repertoire) RepertoireSummary {
	return RepertoireSummary{
		ID:        rep.ID,
		UserID:    rep.UserID,
		Name:      rep.Name,
		Color:     rep.Color,
		Openings:  len(rep.Openings),
		UpdatedAt: rep.UpdatedAt,
	}
}
