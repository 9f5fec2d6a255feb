package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/park285/cheese-repertoire/internal/domain"
)

// SQLRepository is the Repository over postgres or sqlite. Queries are written
// with ? placeholders and rebound for the driver.
type SQLRepository struct {
	db *sqlx.DB
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

type repertoireRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	Color     string `db:"color"`
	Openings  string `db:"openings"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type sessionRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	RepertoireID     string         `db:"repertoire_id"`
	Color            string         `db:"color"`
	Config           string         `db:"config"`
	StartFEN         string         `db:"start_fen"`
	StartedAt        string         `db:"started_at"`
	EndedAt          sql.NullString `db:"ended_at"`
	Stats            string         `db:"stats"`
	CompletionReason string         `db:"completion_reason"`
	Failed           int            `db:"failed"`
	FailureReason    string         `db:"failure_reason"`
}

type moveRow struct {
	SessionID     string        `db:"session_id"`
	Seq           int           `db:"seq"`
	Ply           int           `db:"ply"`
	FENBefore     string        `db:"fen_before"`
	FENAfter      string        `db:"fen_after"`
	UserMove      string        `db:"user_move"`
	UserMoveUCI   string        `db:"user_move_uci"`
	ExpectedMove  string        `db:"expected_move"`
	ExpectedMoves string        `db:"expected_moves"`
	Category      string        `db:"category"`
	Reverted      int           `db:"reverted"`
	EvalBefore    sql.NullInt64 `db:"eval_before"`
	EvalAfter     sql.NullInt64 `db:"eval_after"`
	CentipawnLoss sql.NullInt64 `db:"centipawn_loss"`
	RecordedAt    string        `db:"recorded_at"`
}

const sessionColumns = `id, user_id, repertoire_id, color, config, start_fen, started_at,
	ended_at, stats, completion_reason, failed, failure_reason`

func (r *SQLRepository) SaveRepertoire(ctx context.Context, rep *domain.Repertoire) error {
	if rep == nil || strings.TrimSpace(rep.ID) == "" {
		return fmt.Errorf("repertoire id required")
	}
	openings, err := json.Marshal(rep.Openings)
	if err != nil {
		return fmt.Errorf("marshal openings: %w", err)
	}
	now := time.Now().UTC()
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = now
	}
	rep.UpdatedAt = now

	query := r.db.Rebind(`
		INSERT INTO repertoires (id, user_id, name, color, openings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			color = excluded.color,
			openings = excluded.openings,
			updated_at = excluded.updated_at`)
	_, err = r.db.ExecContext(ctx, query,
		rep.ID, rep.UserID, rep.Name, string(rep.Color), string(openings),
		formatTime(rep.CreatedAt), formatTime(rep.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save repertoire: %w", err)
	}
	return nil
}

func (r *SQLRepository) LoadRepertoire(ctx context.Context, id string) (*domain.Repertoire, error) {
	var row repertoireRow
	query := r.db.Rebind(`SELECT id, user_id, name, color, openings, created_at, updated_at FROM repertoires WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("repertoire %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select repertoire: %w", err)
	}
	return row.toDomain()
}

func (r *SQLRepository) ListRepertoires(ctx context.Context, userID string) ([]RepertoireSummary, error) {
	var rows []repertoireRow
	query := r.db.Rebind(`
		SELECT id, user_id, name, color, openings, created_at, updated_at
		FROM repertoires WHERE user_id = ? ORDER BY name, id`)
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("select repertoires: %w", err)
	}
	out := make([]RepertoireSummary, 0, len(rows))
	for _, row := range rows {
		rep, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(rep))
	}
	return out, nil
}

func (row repertoireRow) toDomain() (*domain.Repertoire, error) {
	rep := &domain.Repertoire{
		ID:     row.ID,
		UserID: row.UserID,
		Name:   row.Name,
		Color:  domain.Color(row.Color),
	}
	if err := json.Unmarshal([]byte(row.Openings), &rep.Openings); err != nil {
		return nil, fmt.Errorf("unmarshal openings: %w", err)
	}
	var err error
	if rep.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return nil, err
	}
	if rep.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, s *domain.PracticeSession) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id required")
	}
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	var ended sql.NullString
	if s.EndedAt != nil {
		ended = sql.NullString{String: formatTime(*s.EndedAt), Valid: true}
	}
	query := r.db.Rebind(`
		INSERT INTO practice_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.RepertoireID, string(s.Color), string(cfg), s.StartFEN,
		formatTime(s.StartedAt), ended, string(stats), string(s.CompletionReason),
		boolToInt(s.Failed), s.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("insert practice session: %w", err)
	}
	return nil
}

func (r *SQLRepository) PersistMove(ctx context.Context, sessionID string, m domain.PracticeMove) error {
	expected, err := json.Marshal(nonNilStrings(m.ExpectedMoves))
	if err != nil {
		return fmt.Errorf("marshal expected moves: %w", err)
	}
	var before, after, loss sql.NullInt64
	if m.Quality != nil {
		before = sql.NullInt64{Int64: int64(m.Quality.EvalBefore), Valid: true}
		after = sql.NullInt64{Int64: int64(m.Quality.EvalAfter), Valid: true}
		loss = sql.NullInt64{Int64: int64(m.Quality.CentipawnLoss), Valid: true}
	}
	query := r.db.Rebind(`
		INSERT INTO practice_moves (
			session_id, seq, ply, fen_before, fen_after, user_move, user_move_uci,
			expected_move, expected_moves, category, reverted,
			eval_before, eval_after, centipawn_loss, recorded_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query,
		sessionID, m.Seq, m.Ply, m.FENBefore, m.FENAfter, m.UserMove, m.UserMoveUCI,
		m.ExpectedMove, string(expected), string(m.Category), boolToInt(m.Reverted),
		before, after, loss, formatTime(m.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert practice move: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s seq %d: %w", sessionID, m.Seq, ErrDuplicateMove)
	}
	return nil
}

func (r *SQLRepository) PersistSessionEnd(ctx context.Context, sessionID string, result domain.SessionResult) error {
	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	query := r.db.Rebind(`
		UPDATE practice_sessions
		SET ended_at = ?, stats = ?, completion_reason = ?, failed = ?, failure_reason = ?
		WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		formatTime(result.EndedAt), string(stats), string(result.Reason),
		boolToInt(result.Failed), result.FailureReason, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update practice session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (r *SQLRepository) GetSession(ctx context.Context, id string) (*domain.PracticeSession, error) {
	var row sessionRow
	query := r.db.Rebind(`SELECT ` + sessionColumns + ` FROM practice_sessions WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select practice session: %w", err)
	}
	session, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	var moves []moveRow
	query = r.db.Rebind(`
		SELECT session_id, seq, ply, fen_before, fen_after, user_move, user_move_uci,
			expected_move, expected_moves, category, reverted,
			eval_before, eval_after, centipawn_loss, recorded_at
		FROM practice_moves WHERE session_id = ? ORDER BY seq`)
	if err := r.db.SelectContext(ctx, &moves, query, id); err != nil {
		return nil, fmt.Errorf("select practice moves: %w", err)
	}
	session.Moves = make([]domain.PracticeMove, 0, len(moves))
	for _, m := range moves {
		move, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		session.Moves = append(session.Moves, move)
	}
	return session, nil
}

func (r *SQLRepository) RecentSessions(ctx context.Context, userID string, limit int) ([]*domain.PracticeSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var rows []sessionRow
	query := r.db.Rebind(`
		SELECT ` + sessionColumns + `
		FROM practice_sessions
		WHERE user_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("select practice sessions: %w", err)
	}
	out := make([]*domain.PracticeSession, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (row sessionRow) toDomain() (*domain.PracticeSession, error) {
	s := &domain.PracticeSession{
		ID:               row.ID,
		UserID:           row.UserID,
		RepertoireID:     row.RepertoireID,
		Color:            domain.Color(row.Color),
		StartFEN:         row.StartFEN,
		CompletionReason: domain.CompletionReason(row.CompletionReason),
		Failed:           row.Failed != 0,
		FailureReason:    row.FailureReason,
	}
	if err := json.Unmarshal([]byte(row.Config), &s.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(row.Stats), &s.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	var err error
	if s.StartedAt, err = parseTime(row.StartedAt); err != nil {
		return nil, err
	}
	if row.EndedAt.Valid {
		ended, err := parseTime(row.EndedAt.String)
		if err != nil {
			return nil, err
		}
		s.EndedAt = &ended
	}
	return s, nil
}

func (row moveRow) toDomain() (domain.PracticeMove, error) {
	m := domain.PracticeMove{
		Seq:          row.Seq,
		Ply:          row.Ply,
		FENBefore:    row.FENBefore,
		FENAfter:     row.FENAfter,
		UserMove:     row.UserMove,
		UserMoveUCI:  row.UserMoveUCI,
		ExpectedMove: row.ExpectedMove,
		Category:     domain.Category(row.Category),
		Reverted:     row.Reverted != 0,
	}
	if err := json.Unmarshal([]byte(row.ExpectedMoves), &m.ExpectedMoves); err != nil {
		return m, fmt.Errorf("unmarshal expected moves: %w", err)
	}
	if len(m.ExpectedMoves) == 0 {
		m.ExpectedMoves = nil
	}
	if row.CentipawnLoss.Valid {
		m.Quality = &domain.MoveQuality{
			EvalBefore:    int(row.EvalBefore.Int64),
			EvalAfter:     int(row.EvalAfter.Int64),
			CentipawnLoss: int(row.CentipawnLoss.Int64),
		}
	}
	var err error
	if m.RecordedAt, err = parseTime(row.RecordedAt); err != nil {
		return m, err
	}
	return m, nil
}

// Fixed width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
