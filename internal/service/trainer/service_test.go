package trainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/practice"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	"github.com/park285/cheese-repertoire/internal/storage"
	"github.com/stretchr/testify/require"
)

func chain(sans ...string) []domain.MoveEdge {
	if len(sans) == 0 {
		return nil
	}
	return []domain.MoveEdge{{SAN: sans[0], IsMainLine: true, Children: chain(sans[1:]...)}}
}

func spanish() *domain.Repertoire {
	return &domain.Repertoire{
		ID:    "spanish",
		Name:  "Spanish",
		Color: domain.White,
		Openings: []domain.OpeningLine{
			{ID: "ruy", Name: "Ruy Lopez", Moves: chain("e4", "e5", "Nf3", "Nc6", "Bb5")},
		},
	}
}

func sicilian() *domain.Repertoire {
	return &domain.Repertoire{
		ID:       "sicilian",
		Color:    domain.Black,
		Openings: []domain.OpeningLine{{ID: "najdorf", Moves: chain("e4", "c5", "Nf3", "d6")}},
	}
}

type events struct {
	mu    sync.Mutex
	kinds []practice.EventKind
}

func (e *events) observe(ev practice.Event) {
	e.mu.Lock()
	e.kinds = append(e.kinds, ev.Kind)
	e.mu.Unlock()
}

func newTestService(t *testing.T, cfg Config, reps ...*domain.Repertoire) (*Service, *storage.MemoryRepository, *events) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	seen := &events{}
	n := 0
	svc, err := NewService(Deps{
		Repo:     repo,
		Observer: seen.observe,
		Clock:    func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("s-%d", n)
		},
	}, cfg, nil)
	require.NoError(t, err)
	for _, rep := range reps {
		_, err := svc.ImportRepertoire(context.Background(), SessionMeta{UserID: "u-1"}, rep)
		require.NoError(t, err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc, repo, seen
}

var alice = SessionMeta{UserID: "u-1"}

func TestDrillUntilOpponentRunsOutOfBook(t *testing.T) {
	svc, _, seen := newTestService(t, Config{}, spanish())
	ctx := context.Background()

	state, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)
	require.Equal(t, "s-1", state.Session.ID)
	require.Equal(t, practice.StateAwaitingPlayerMove, state.State)
	require.Equal(t, domain.DefaultMaxMoves, state.Session.Config.MaxMoves)
	require.Nil(t, state.LastOpponent)

	for i, mv := range []string{"e4", "Nf3"} {
		summary, err := svc.Play(ctx, alice, mv)
		require.NoError(t, err)
		require.False(t, summary.Outcome.Rejected)
		require.Equal(t, domain.CategoryCorrect, summary.Outcome.Move.Category)
		require.NotNil(t, summary.State.LastOpponent, "move %d", i)
	}
	summary, err := svc.Play(ctx, alice, "Bb5")
	require.NoError(t, err)
	require.True(t, summary.Outcome.Completed)
	require.Equal(t, domain.ReasonOutOfBook, summary.Outcome.Reason)
	require.Equal(t, practice.StateSessionComplete, summary.State.State)
	require.Equal(t, "Nc6", summary.State.LastOpponent.SAN)

	_, err = svc.Play(ctx, alice, "O-O")
	require.ErrorIs(t, err, practice.ErrSessionComplete)

	ended, err := svc.End(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, 3, ended.Session.Stats.TotalMoves)
	require.Equal(t, 100, ended.Session.Stats.AccuracyPercentage)

	history, err := svc.History(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Finished())
	require.Equal(t, domain.ReasonOutOfBook, history[0].CompletionReason)

	stored, err := svc.Session(ctx, alice, "s-1")
	require.NoError(t, err)
	require.Len(t, stored.Moves, 3)
	require.Equal(t, "Bb5", stored.Moves[2].UserMove)

	seen.mu.Lock()
	defer seen.mu.Unlock()
	require.Equal(t, practice.EventSessionComplete, seen.kinds[len(seen.kinds)-1])
}

func TestStrictMistakeKeepsPosition(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, spanish())
	ctx := context.Background()

	state, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish", Strictness: domain.StrictnessStrict})
	require.NoError(t, err)
	before := state.FEN

	summary, err := svc.Play(ctx, alice, "d4")
	require.NoError(t, err)
	require.True(t, summary.Outcome.Reverted)
	require.Equal(t, "e4", summary.Outcome.Move.ExpectedMove)
	require.Equal(t, before, summary.State.FEN)

	summary, err = svc.Play(ctx, alice, "Ke2")
	require.NoError(t, err)
	require.True(t, summary.Outcome.Rejected)
	require.Len(t, summary.State.Session.Moves, 1)
}

func TestBlackSessionStartsWithOpponentMove(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, sicilian())

	state, err := svc.StartSession(context.Background(), alice, StartOptions{RepertoireID: "sicilian"})
	require.NoError(t, err)
	require.Equal(t, domain.Black, state.Session.Color)
	require.Equal(t, practice.StateAwaitingPlayerMove, state.State)
	require.NotNil(t, state.LastOpponent)
	require.Equal(t, "e4", state.LastOpponent.SAN)
	require.Equal(t, 1, state.Plies)

	hints, err := svc.Hint(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, []string{"c5"}, repertoire.SANs(hints))
}

func TestOneRunningSessionPerUser(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, spanish())
	ctx := context.Background()

	_, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish"})
	require.ErrorIs(t, err, ErrSessionInProgress)

	_, err = svc.StartSession(ctx, SessionMeta{UserID: "u-2"}, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)

	_, err = svc.End(ctx, alice)
	require.NoError(t, err)
	_, err = svc.Status(ctx, alice)
	require.ErrorIs(t, err, ErrSessionNotFound)

	state, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)
	require.Equal(t, "s-3", state.Session.ID)
}

func TestSpecificOpeningAndOverrides(t *testing.T) {
	rep := spanish()
	rep.Openings = append(rep.Openings, domain.OpeningLine{ID: "italian", Moves: chain("e4", "e5", "Nf3", "Nc6", "Bc4")})
	svc, _, _ := newTestService(t, Config{}, rep)
	ctx := context.Background()

	limit := 2
	variations := true
	state, err := svc.StartSession(ctx, alice, StartOptions{
		RepertoireID:    "spanish",
		OpeningID:       "italian",
		MaxMoves:        &limit,
		AllowVariations: &variations,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ModeSpecific, state.Session.Config.Mode)
	require.True(t, state.Session.Config.AllowVariations)

	summary, err := svc.Play(ctx, alice, "e4")
	require.NoError(t, err)
	require.True(t, summary.Outcome.Completed)
	require.Equal(t, domain.ReasonMoveLimit, summary.Outcome.Reason)

	_, err = svc.End(ctx, alice)
	require.NoError(t, err)
	_, err = svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish", OpeningID: "scotch"})
	var malformed *repertoire.MalformedRepertoireError
	require.True(t, errors.As(err, &malformed))
}

func TestStartErrors(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, spanish())
	ctx := context.Background()

	_, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "missing"})
	require.ErrorIs(t, err, ErrRepertoireNotFound)
	_, err = svc.StartSession(ctx, SessionMeta{}, StartOptions{RepertoireID: "spanish"})
	require.ErrorIs(t, err, ErrUserRequired)
	_, err = svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish", Strictness: "loose"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	_, err = svc.Play(ctx, alice, "e4")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Hint(ctx, alice)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestImportValidatesLines(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	bad := spanish()
	bad.Openings[0].Moves = chain("e4", "e4")

	_, err := svc.ImportRepertoire(context.Background(), alice, bad)
	var malformed *repertoire.MalformedRepertoireError
	require.True(t, errors.As(err, &malformed))

	report, err := svc.ImportRepertoire(context.Background(), alice, spanish())
	require.NoError(t, err)
	require.Equal(t, 5, report.Edges)
	require.Equal(t, 5, report.Positions)

	inspected, err := svc.Inspect(context.Background(), "spanish")
	require.NoError(t, err)
	require.Equal(t, report.Edges, inspected.Edges)

	list, err := svc.Repertoires(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "u-1", list[0].UserID)
}

func TestSessionIsScopedToOwner(t *testing.T) {
	svc, _, _ := newTestService(t, Config{}, spanish())
	ctx := context.Background()
	_, err := svc.StartSession(ctx, alice, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)

	_, err = svc.Session(ctx, SessionMeta{UserID: "u-2"}, "s-1")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Session(ctx, alice, "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
	got, err := svc.Session(ctx, alice, "s-1")
	require.NoError(t, err)
	require.False(t, got.Finished())
}

type fixedEvaluator struct{}

func (fixedEvaluator) Evaluate(context.Context, string) (int, error) { return 20, nil }

type replier struct{ move string }

func (r replier) BestReply(context.Context, string) (string, error) { return r.move, nil }

func TestQualityCategorizerAndEngineFallback(t *testing.T) {
	_, err := NewService(Deps{Repo: storage.NewMemoryRepository()}, Config{Categorizer: "quality"}, nil)
	require.Error(t, err)
	_, err = NewService(Deps{Repo: storage.NewMemoryRepository()}, Config{Categorizer: "psychic"}, nil)
	require.Error(t, err)

	repo := storage.NewMemoryRepository()
	svc, err := NewService(Deps{
		Repo:      repo,
		Evaluator: fixedEvaluator{},
		Engine:    replier{move: "g8f6"},
	}, Config{Categorizer: CategorizerQuality, EngineFallback: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })

	rep := spanish()
	rep.Openings[0].Moves = chain("e4", "e5")
	_, err = svc.ImportRepertoire(context.Background(), alice, rep)
	require.NoError(t, err)

	_, err = svc.StartSession(context.Background(), alice, StartOptions{RepertoireID: "spanish"})
	require.NoError(t, err)
	summary, err := svc.Play(context.Background(), alice, "e4")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryBook, summary.Outcome.Move.Category)
	require.Equal(t, "e5", summary.Outcome.Opponent.SAN)

	summary, err = svc.Play(context.Background(), alice, "Nf3")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryBest, summary.Outcome.Move.Category)
	require.False(t, summary.Outcome.Completed)
	require.Equal(t, "Nf6", summary.Outcome.Opponent.SAN)
	stateKey, err := corechess.PositionKey(summary.State.FEN)
	require.NoError(t, err)
	replyKey, err := corechess.PositionKey(summary.Outcome.Opponent.FEN)
	require.NoError(t, err)
	require.Equal(t, stateKey, replyKey)
}
