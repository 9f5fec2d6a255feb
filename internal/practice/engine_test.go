package practice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	"github.com/stretchr/testify/require"
)

func chain(sans ...string) []domain.MoveEdge {
	if len(sans) == 0 {
		return nil
	}
	return []domain.MoveEdge{{SAN: sans[0], IsMainLine: true, Children: chain(sans[1:]...)}}
}

func singleLine(color domain.Color, sans ...string) domain.Repertoire {
	return domain.Repertoire{
		ID:       "rep-1",
		Color:    color,
		Openings: []domain.OpeningLine{{ID: "main", Name: "Main", Moves: chain(sans...)}},
	}
}

func navFor(t *testing.T, rep domain.Repertoire) *repertoire.Navigator {
	t.Helper()
	idx, err := repertoire.Build(rep, "")
	require.NoError(t, err)
	return repertoire.NewNavigator(idx)
}

func play(t *testing.T, moves ...string) string {
	t.Helper()
	rules := corechess.NewRules()
	fen := corechess.InitialFEN
	for _, mv := range moves {
		applied, err := rules.ApplyMove(context.Background(), fen, mv)
		require.NoError(t, err)
		fen = applied.FEN
	}
	return fen
}

func session(color domain.Color, cfg domain.PracticeConfig) *domain.PracticeSession {
	return &domain.PracticeSession{ID: "s-1", UserID: "u-1", RepertoireID: "rep-1", Color: color, Config: cfg}
}

func strictConfig(maxMoves int) domain.PracticeConfig {
	cfg := domain.DefaultPracticeConfig()
	cfg.MaxMoves = maxMoves
	cfg.Strictness = domain.StrictnessStrict
	return cfg
}

type memoryRecorder struct {
	mu       sync.Mutex
	moves    []domain.PracticeMove
	results  []domain.SessionResult
	moveErr  error
	endCalls int
}

func (r *memoryRecorder) PersistMove(_ context.Context, _ string, move domain.PracticeMove) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.moveErr != nil {
		return r.moveErr
	}
	r.moves = append(r.moves, move)
	return nil
}

func (r *memoryRecorder) PersistSessionEnd(_ context.Context, _ string, result domain.SessionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endCalls++
	r.results = append(r.results, result)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

type stubOpponent struct {
	move string
	ok   bool
	err  error
}

func (s stubOpponent) Reply(context.Context, string) (string, bool, error) {
	return s.move, s.ok, s.err
}

// blockingOpponent parks until its context is cancelled.
type blockingOpponent struct {
	entered chan struct{}
}

func (b *blockingOpponent) Reply(ctx context.Context, _ string) (string, bool, error) {
	close(b.entered)
	<-ctx.Done()
	return "", false, ctx.Err()
}

func TestScenarioCorrectLineReachesMoveLimit(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6"))
	rec := &memoryRecorder{}
	log := &eventLog{}
	eng, err := New(session(domain.White, strictConfig(4)), nav, Deps{
		Rules:    corechess.NewRules(),
		Recorder: rec,
		Observer: log.observe,
	})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPlayerMove, eng.State())
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "e4")
	require.NoError(t, err)
	require.False(t, out.Rejected)
	require.Equal(t, domain.CategoryCorrect, out.Move.Category)
	require.NotNil(t, out.Opponent)
	require.Equal(t, "e5", out.Opponent.SAN)
	require.False(t, out.Completed)

	out, err = eng.SubmitMove(context.Background(), "Nf3")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryCorrect, out.Move.Category)
	require.Equal(t, "Nc6", out.Opponent.SAN)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonMoveLimit, out.Reason)

	snap := eng.Snapshot()
	require.Equal(t, StateSessionComplete, eng.State())
	require.Equal(t, 2, snap.Stats.TotalMoves)
	require.Equal(t, 100, snap.Stats.AccuracyPercentage)
	require.NotNil(t, snap.EndedAt)
	require.Equal(t, 4, eng.Plies())

	_, err = eng.SubmitMove(context.Background(), "Bb5")
	require.ErrorIs(t, err, ErrSessionComplete)

	eng.Wait()
	require.Len(t, rec.moves, 2)
	require.Equal(t, 1, rec.endCalls)
	require.Equal(t, domain.ReasonMoveLimit, rec.results[0].Reason)
	require.Equal(t, []EventKind{
		EventMoveRecorded, EventOpponentMoved,
		EventMoveRecorded, EventOpponentMoved, EventSessionComplete,
	}, log.kinds())
}

func TestScenarioStrictMistakeReverts(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6"))
	eng, err := New(session(domain.White, strictConfig(4)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	_, err = eng.SubmitMove(context.Background(), "e4")
	require.NoError(t, err)
	before := eng.Position()

	out, err := eng.SubmitMove(context.Background(), "Nc3")
	require.NoError(t, err)
	require.True(t, out.Reverted)
	require.Nil(t, out.Opponent)
	require.Equal(t, domain.CategoryIncorrect, out.Move.Category)
	require.Equal(t, "Nf3", out.Move.ExpectedMove)
	require.Equal(t, []string{"Nf3"}, out.Move.ExpectedMoves)
	require.Equal(t, before, eng.Position())
	require.Equal(t, StateAwaitingPlayerMove, eng.State())

	stats := eng.Stats()
	require.Equal(t, 2, stats.TotalMoves)
	require.Equal(t, 1, stats.Mistakes)
	require.Equal(t, 50, stats.AccuracyPercentage)

	out, err = eng.SubmitMove(context.Background(), "Nf3")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryCorrect, out.Move.Category)
	require.True(t, out.Completed)
}

func TestFlexibleMistakeAdvancesBoard(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6"))
	eng, err := New(session(domain.White, domain.DefaultPracticeConfig()), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "d4")
	require.NoError(t, err)
	require.False(t, out.Reverted)
	require.Equal(t, domain.CategoryIncorrect, out.Move.Category)
	require.Equal(t, "e4", out.Move.ExpectedMove)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonOutOfBook, out.Reason)
}

func TestScenarioOpponentOutOfRepertoire(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4"))
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "e4")
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonOutOfBook, out.Reason)
	require.Equal(t, 1, eng.Stats().TotalMoves)
	require.Equal(t, StateSessionComplete, eng.State())
}

func TestPlayerOutOfRepertoireStopsWhenConfigured(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{
		Rules:                   corechess.NewRules(),
		StopWhenPlayerOutOfBook: true,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "e4")
	require.NoError(t, err)
	require.Equal(t, "e5", out.Opponent.SAN)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonPlayerOutOfBook, out.Reason)
	require.Equal(t, 1, eng.Stats().TotalMoves)
}

func TestBlackSessionOpensWithOpponentMove(t *testing.T) {
	nav := navFor(t, singleLine(domain.Black, "e4", "e5", "Nf3", "Nc6", "Bb5"))
	eng, err := New(session(domain.Black, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.Equal(t, StateAwaitingOpponentOpening, eng.State())

	require.NoError(t, eng.Start(context.Background()))
	require.Equal(t, StateAwaitingPlayerMove, eng.State())
	require.Equal(t, play(t, "e4"), eng.Position())
	require.ErrorIs(t, eng.Start(context.Background()), ErrAlreadyStarted)

	out, err := eng.SubmitMove(context.Background(), "e5")
	require.NoError(t, err)
	require.Equal(t, "Nf3", out.Opponent.SAN)

	out, err = eng.SubmitMove(context.Background(), "b8c6")
	require.NoError(t, err)
	require.Equal(t, "Nc6", out.Move.UserMove)
	require.Equal(t, "Bb5", out.Opponent.SAN)
	require.Equal(t, 2, eng.Stats().CorrectMoves)
}

func TestIllegalMoveIsRejectedWithoutChange(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	log := &eventLog{}
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules(), Observer: log.observe})
	require.NoError(t, err)

	_, err = eng.SubmitMove(context.Background(), "e4")
	require.ErrorIs(t, err, ErrNotStarted)
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "e5")
	require.NoError(t, err)
	require.True(t, out.Rejected)
	require.NotEmpty(t, out.RejectReason)
	require.Nil(t, out.Move)
	require.Empty(t, eng.Moves())
	require.Equal(t, corechess.InitialFEN, eng.Position())
	require.Equal(t, StateAwaitingPlayerMove, eng.State())
	require.Equal(t, []EventKind{EventMoveRejected}, log.kinds())
}

func TestEndCancelsPendingOpponent(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	opp := &blockingOpponent{entered: make(chan struct{})}
	rec := &memoryRecorder{}
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{
		Rules:    corechess.NewRules(),
		Opponent: opp,
		Recorder: rec,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	type result struct {
		out MoveOutcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := eng.SubmitMove(context.Background(), "e4")
		done <- result{out, err}
	}()

	select {
	case <-opp.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("opponent never asked")
	}
	stats := eng.End(context.Background())
	require.Equal(t, 1, stats.TotalMoves)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.True(t, r.out.Completed)
		require.Equal(t, domain.ReasonEndedByUser, r.out.Reason)
		require.Nil(t, r.out.Opponent)
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not return after End")
	}
	require.Equal(t, play(t, "e4"), eng.Position())

	eng.Wait()
	require.Equal(t, 1, rec.endCalls)
	require.Equal(t, domain.ReasonEndedByUser, rec.results[0].Reason)
}

func TestEndIsIdempotent(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	rec := &memoryRecorder{}
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules(), Recorder: rec})
	require.NoError(t, err)

	first := eng.End(context.Background())
	second := eng.End(context.Background())
	require.Equal(t, first, second)
	require.Equal(t, 0, first.AccuracyPercentage)
	eng.Wait()
	require.Equal(t, 1, rec.endCalls)
}

func TestOpponentIllegalMoveIsFatal(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{
		Rules:    corechess.NewRules(),
		Opponent: stubOpponent{move: "Ke5", ok: true},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	out, err := eng.SubmitMove(context.Background(), "e4")
	var oppErr *OpponentMoveError
	require.ErrorAs(t, err, &oppErr)
	require.Equal(t, "Ke5", oppErr.Move)
	require.ErrorIs(t, err, corechess.ErrIllegalMove)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonOpponentError, out.Reason)

	snap := eng.Snapshot()
	require.True(t, snap.Failed)
	require.NotEmpty(t, snap.FailureReason)
}

func TestOpponentLookupErrorIsFatal(t *testing.T) {
	nav := navFor(t, singleLine(domain.Black, "e4", "e5"))
	boom := errors.New("engine crashed")
	eng, err := New(session(domain.Black, strictConfig(0)), nav, Deps{
		Rules:    corechess.NewRules(),
		Opponent: stubOpponent{err: boom},
	})
	require.NoError(t, err)

	err = eng.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateSessionComplete, eng.State())
	require.Equal(t, domain.ReasonOpponentError, eng.Snapshot().CompletionReason)
}

func TestPersistenceFailureDoesNotStopPlay(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6"))
	rec := &memoryRecorder{moveErr: errors.New("disk full")}
	log := &eventLog{}
	eng, err := New(session(domain.White, strictConfig(4)), nav, Deps{
		Rules:    corechess.NewRules(),
		Recorder: rec,
		Observer: log.observe,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	_, err = eng.SubmitMove(context.Background(), "e4")
	require.NoError(t, err)
	out, err := eng.SubmitMove(context.Background(), "Nf3")
	require.NoError(t, err)
	require.True(t, out.Completed)

	eng.Wait()
	failures := 0
	for _, k := range log.kinds() {
		if k == EventPersistenceFailed {
			failures++
		}
	}
	require.Equal(t, 2, failures)
	require.Equal(t, 1, rec.endCalls)
	require.Equal(t, 2, eng.Stats().CorrectMoves)
}

// serialObserver fails the test when two deliveries overlap.
type serialObserver struct {
	t      *testing.T
	mu     sync.Mutex
	active int
	events []Event
}

func (o *serialObserver) observe(ev Event) {
	o.mu.Lock()
	o.active++
	overlap := o.active > 1
	o.mu.Unlock()
	if overlap {
		o.t.Errorf("observer called concurrently for %s", ev.Kind)
	}
	time.Sleep(time.Millisecond)
	o.mu.Lock()
	o.active--
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func TestObserverDeliveryIsSerialWhilePersistenceFails(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6", "Bb5", "a6", "Ba4", "Nf6"))
	obs := &serialObserver{t: t}
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{
		Rules:    corechess.NewRules(),
		Recorder: &memoryRecorder{moveErr: errors.New("disk full")},
		Observer: obs.observe,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	for _, mv := range []string{"e2e4", "g1f3", "f1b5", "b5a4"} {
		out, err := eng.SubmitMove(context.Background(), mv)
		require.NoError(t, err)
		require.Equal(t, domain.CategoryCorrect, out.Move.Category, mv)
	}
	eng.End(context.Background())
	eng.Wait()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	failures, recorded := 0, 0
	for _, ev := range obs.events {
		switch ev.Kind {
		case EventPersistenceFailed:
			failures++
		case EventMoveRecorded:
			recorded++
		}
	}
	require.Equal(t, 4, recorded)
	require.Equal(t, 4, failures)
	require.Equal(t, EventMoveRecorded, obs.events[0].Kind)
}

func TestPlayerUCIPieceMoveIsGraded(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5", "Nf3", "Nc6"))
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	_, err = eng.SubmitMove(context.Background(), "e2e4")
	require.NoError(t, err)
	out, err := eng.SubmitMove(context.Background(), "g1f3")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryCorrect, out.Move.Category)
	require.False(t, out.Reverted)
	require.Equal(t, "Nc6", out.Opponent.SAN)
	require.Equal(t, play(t, "e4", "e5", "Nf3", "Nc6"), eng.Position())
}

type failingCategorizer struct{ calls int }

func (f *failingCategorizer) Categorize(context.Context, MoveInput) (Verdict, error) {
	f.calls++
	return Verdict{}, errors.New("evaluator offline")
}

func TestCategorizerErrorLeavesPositionUnrecorded(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	cat := &failingCategorizer{}
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules(), Categorizer: cat})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	_, err = eng.SubmitMove(context.Background(), "e4")
	require.Error(t, err)
	require.Equal(t, 1, cat.calls)
	require.Empty(t, eng.Moves())
	require.Equal(t, StateAwaitingPlayerMove, eng.State())
	require.Equal(t, corechess.InitialFEN, eng.Position())
}

func TestGameOverEndsSession(t *testing.T) {
	rep := singleLine(domain.White, "f3", "e5", "g4", "Qh4#")
	nav := navFor(t, rep)
	eng, err := New(session(domain.Black, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.Error(t, err)
	require.Nil(t, eng)

	rep.Color = domain.Black
	nav = navFor(t, rep)
	eng, err = New(session(domain.Black, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	_, err = eng.SubmitMove(context.Background(), "e5")
	require.NoError(t, err)
	out, err := eng.SubmitMove(context.Background(), "Qh4")
	require.NoError(t, err)
	require.True(t, out.Completed)
	require.Equal(t, domain.ReasonGameOver, out.Reason)
}

func TestHintListsPreparedMoves(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4", "e5"))
	eng, err := New(session(domain.White, strictConfig(0)), nav, Deps{Rules: corechess.NewRules()})
	require.NoError(t, err)
	require.Equal(t, []string{"e4"}, repertoire.SANs(eng.Hint()))
}

func TestNewValidatesInput(t *testing.T) {
	nav := navFor(t, singleLine(domain.White, "e4"))
	_, err := New(nil, nav, Deps{Rules: corechess.NewRules()})
	require.Error(t, err)

	s := session(domain.White, strictConfig(0))
	_, err = New(s, nav, Deps{})
	require.Error(t, err)

	bad := session(domain.White, domain.PracticeConfig{MaxMoves: -1, Strictness: domain.StrictnessStrict, Mode: domain.ModeRandom})
	_, err = New(bad, nav, Deps{Rules: corechess.NewRules()})
	require.Error(t, err)

	s = session(domain.White, strictConfig(0))
	s.StartFEN = "not a fen"
	_, err = New(s, nav, Deps{Rules: corechess.NewRules()})
	require.ErrorIs(t, err, corechess.ErrMalformedPosition)
}
