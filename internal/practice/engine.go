package practice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	"go.uber.org/zap"
)

type State int

const (
	StateAwaitingOpponentOpening State = iota
	StateAwaitingPlayerMove
	StateEvaluatingPlayerMove
	StateAwaitingOpponentReply
	StateSessionComplete
)

func (s State) String() string {
	switch s {
	case StateAwaitingOpponentOpening:
		return "awaiting_opponent_opening"
	case StateAwaitingPlayerMove:
		return "awaiting_player_move"
	case StateEvaluatingPlayerMove:
		return "evaluating_player_move"
	case StateAwaitingOpponentReply:
		return "awaiting_opponent_reply"
	case StateSessionComplete:
		return "session_complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrSessionComplete = errors.New("practice session is complete")
	ErrNotPlayerTurn   = errors.New("not awaiting a player move")
	ErrNotStarted      = errors.New("practice session not started")
	ErrAlreadyStarted  = errors.New("practice session already started")
	ErrSessionEnded    = errors.New("practice session ended while a move was pending")
)

// OpponentMoveError means the opponent's move could not be produced or
// played. It ends the session.
type OpponentMoveError struct {
	Move     string
	Position string
	Err      error
}

func (e *OpponentMoveError) Error() string {
	if e.Move == "" {
		return fmt.Sprintf("opponent reply lookup at %q: %v", e.Position, e.Err)
	}
	return fmt.Sprintf("opponent move %q at %q: %v", e.Move, e.Position, e.Err)
}

func (e *OpponentMoveError) Unwrap() error { return e.Err }

// Rules is the board collaborator.
type Rules interface {
	ApplyMove(ctx context.Context, fen, move string) (corechess.Applied, error)
	IsTerminal(fen string) bool
}

type Deps struct {
	Rules       Rules
	Categorizer Categorizer
	Opponent    MoveSource
	Recorder    Recorder
	Observer    Observer
	Logger      *zap.Logger
	Clock       func() time.Time

	// StopWhenPlayerOutOfBook completes the session once the player has no
	// prepared continuation left.
	StopWhenPlayerOutOfBook bool
	PersistTimeout          time.Duration
}

// MoveOutcome reports what a player submission did.
type MoveOutcome struct {
	Move         *domain.PracticeMove
	Rejected     bool
	RejectReason string
	Reverted     bool
	Opponent     *corechess.Applied
	Completed    bool
	Reason       domain.CompletionReason
}

// Engine drives one practice session. It owns all mutation of the session
// record; readers use Snapshot, Moves and Stats.
type Engine struct {
	mu      sync.Mutex
	session *domain.PracticeSession
	nav     *repertoire.Navigator
	deps    Deps
	logger  *zap.Logger

	state      State
	started    bool
	position   string
	plies      int
	generation uint64
	cancel     context.CancelFunc

	persist *persister
	pending []Event
	// emitMu serializes observer delivery between callers and the persister.
	emitMu sync.Mutex
}

func New(session *domain.PracticeSession, nav *repertoire.Navigator, deps Deps) (*Engine, error) {
	if session == nil {
		return nil, fmt.Errorf("nil practice session")
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("practice session id required")
	}
	if session.Finished() {
		return nil, ErrSessionComplete
	}
	if nav == nil {
		return nil, fmt.Errorf("nil navigator")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("nil rules")
	}
	if !session.Color.Valid() {
		return nil, fmt.Errorf("unknown side %q", session.Color)
	}
	if err := session.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid practice config: %w", err)
	}
	if nav.Side() != session.Color {
		return nil, fmt.Errorf("repertoire drills %s, session drills %s", nav.Side(), session.Color)
	}
	if deps.Categorizer == nil {
		deps.Categorizer = NewBinaryCategorizer(nav)
	}
	if deps.Opponent == nil {
		deps.Opponent = NewRepertoireOpponent(nav)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", session.ID))

	if strings.TrimSpace(session.StartFEN) == "" {
		session.StartFEN = corechess.InitialFEN
	}
	session.StartFEN = corechess.ExpandFEN(session.StartFEN)
	if _, err := corechess.PositionKey(session.StartFEN); err != nil {
		return nil, err
	}
	if session.Moves == nil {
		session.Moves = []domain.PracticeMove{}
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = deps.Clock()
	}

	e := &Engine{
		session:  session,
		nav:      nav,
		deps:     deps,
		logger:   logger,
		position: session.StartFEN,
	}
	if drilledToMove(session.Color, session.StartFEN) {
		e.state = StateAwaitingPlayerMove
	} else {
		e.state = StateAwaitingOpponentOpening
	}
	if deps.Recorder != nil {
		e.persist = newPersister(deps.Recorder, session.ID, deps.PersistTimeout, logger, e.persistFailed)
	}
	return e, nil
}

func drilledToMove(side domain.Color, fen string) bool {
	turn := corechess.SideToMove(fen)
	return (side == domain.White && turn == "w") || (side == domain.Black && turn == "b")
}

// Start plays the opponent's first move when the drilled side moves second.
func (e *Engine) Start(ctx context.Context) error {
	defer e.drain()

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.logger.Info("practice_session_start",
		zap.String("color", string(e.session.Color)),
		zap.Int("max_moves", e.session.Config.MaxMoves),
		zap.String("strictness", string(e.session.Config.Strictness)),
		zap.Bool("variations", e.session.Config.AllowVariations),
		zap.Int("positions", e.nav.Size()),
	)
	if e.state == StateAwaitingPlayerMove {
		if reason, done := e.playerTurnBlocked(); done {
			e.complete(reason, nil)
		}
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	_, err := e.opponentTurn(ctx)
	if errors.Is(err, ErrSessionEnded) {
		return nil
	}
	return err
}

// SubmitMove plays the player's move. Illegal moves come back as
// Rejected with no change. Errors are reserved for misuse and for failures
// that end the session.
func (e *Engine) SubmitMove(ctx context.Context, move string) (MoveOutcome, error) {
	defer e.drain()

	e.mu.Lock()
	switch {
	case !e.started:
		e.mu.Unlock()
		return MoveOutcome{}, ErrNotStarted
	case e.state == StateSessionComplete:
		e.mu.Unlock()
		return MoveOutcome{}, ErrSessionComplete
	case e.state != StateAwaitingPlayerMove:
		e.mu.Unlock()
		return MoveOutcome{}, ErrNotPlayerTurn
	}
	gen, before := e.generation, e.position
	e.state = StateEvaluatingPlayerMove
	callCtx, release := e.suspend(ctx)
	e.mu.Unlock()

	applied, err := e.deps.Rules.ApplyMove(callCtx, before, move)
	release()

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return MoveOutcome{}, ErrSessionEnded
	}
	if err != nil {
		e.state = StateAwaitingPlayerMove
		e.mu.Unlock()
		if errors.Is(err, corechess.ErrIllegalMove) {
			e.queueEvent(Event{Kind: EventMoveRejected, Input: move, Err: err})
			return MoveOutcome{Rejected: true, RejectReason: err.Error()}, nil
		}
		return MoveOutcome{}, err
	}
	callCtx, release = e.suspend(ctx)
	e.mu.Unlock()

	verdict, err := e.deps.Categorizer.Categorize(callCtx, MoveInput{
		Before: before,
		After:  applied.FEN,
		Move:   applied,
		Side:   e.session.Color,
	})
	release()

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return MoveOutcome{}, ErrSessionEnded
	}
	if err != nil {
		e.state = StateAwaitingPlayerMove
		e.mu.Unlock()
		return MoveOutcome{}, fmt.Errorf("categorize move: %w", err)
	}

	rec := domain.PracticeMove{
		Seq:         len(e.session.Moves) + 1,
		Ply:         e.plies + 1,
		FENBefore:   before,
		FENAfter:    applied.FEN,
		UserMove:    applied.SAN,
		UserMoveUCI: applied.UCI,
		Category:    verdict.Category,
		Quality:     verdict.Quality,
		RecordedAt:  e.deps.Clock(),
	}
	if verdict.Category.IsMistake() {
		rec.ExpectedMoves = repertoire.SANs(e.nav.ExpectedMoves(before))
		if main, ok := e.nav.MainLine(before); ok {
			rec.ExpectedMove = main.SAN
		}
	}
	rec.Reverted = verdict.Category.IsMistake() && e.session.Config.Strictness == domain.StrictnessStrict
	e.record(rec)

	out := MoveOutcome{Move: cloneMove(rec), Reverted: rec.Reverted}
	if rec.Reverted {
		e.state = StateAwaitingPlayerMove
		e.mu.Unlock()
		return out, nil
	}
	e.position = applied.FEN
	e.plies++
	e.state = StateAwaitingOpponentReply
	e.mu.Unlock()

	reply, err := e.opponentTurn(ctx)
	out.Opponent = reply

	e.mu.Lock()
	out.Completed = e.state == StateSessionComplete
	out.Reason = e.session.CompletionReason
	e.mu.Unlock()

	if errors.Is(err, ErrSessionEnded) {
		return out, nil
	}
	return out, err
}

// opponentTurn checks for termination, then fetches and plays the reply.
// Called without the lock held.
func (e *Engine) opponentTurn(ctx context.Context) (*corechess.Applied, error) {
	e.mu.Lock()
	if e.state == StateSessionComplete {
		e.mu.Unlock()
		return nil, nil
	}
	if reason, done := e.terminationReason(); done {
		e.complete(reason, nil)
		e.mu.Unlock()
		return nil, nil
	}
	gen, pos := e.generation, e.position
	callCtx, release := e.suspend(ctx)
	e.mu.Unlock()

	move, ok, err := e.deps.Opponent.Reply(callCtx, pos)
	release()

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return nil, ErrSessionEnded
	}
	if err != nil {
		oppErr := &OpponentMoveError{Position: pos, Err: err}
		e.complete(domain.ReasonOpponentError, oppErr)
		e.mu.Unlock()
		return nil, oppErr
	}
	if !ok {
		e.complete(domain.ReasonOutOfBook, nil)
		e.mu.Unlock()
		return nil, nil
	}
	callCtx, release = e.suspend(ctx)
	e.mu.Unlock()

	applied, err := e.deps.Rules.ApplyMove(callCtx, pos, move)
	release()

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return nil, ErrSessionEnded
	}
	if err != nil {
		oppErr := &OpponentMoveError{Move: move, Position: pos, Err: err}
		e.complete(domain.ReasonOpponentError, oppErr)
		return nil, oppErr
	}

	e.position = applied.FEN
	e.plies++
	e.pending = append(e.pending, e.event(Event{Kind: EventOpponentMoved, Opponent: &applied}))
	e.logger.Debug("practice_opponent_move", zap.String("move", applied.SAN), zap.Int("ply", e.plies))

	if reason, done := e.terminationReason(); done {
		e.complete(reason, nil)
	} else if reason, done := e.playerTurnBlocked(); done {
		e.complete(reason, nil)
	} else {
		e.state = StateAwaitingPlayerMove
	}
	return &applied, nil
}

// End finishes the session early. Any pending collaborator call is cancelled
// and its result dropped.
func (e *Engine) End(_ context.Context) domain.PracticeStats {
	defer e.drain()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSessionComplete {
		e.complete(domain.ReasonEndedByUser, nil)
	}
	return e.session.Stats
}

// Wait blocks until queued persistence has been written. It only returns
// after the session is complete.
func (e *Engine) Wait() {
	e.persist.wait()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position is the current board as a full FEN.
func (e *Engine) Position() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Plies counts half-moves played on the board since the session started.
func (e *Engine) Plies() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plies
}

func (e *Engine) Snapshot() *domain.PracticeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

func (e *Engine) Moves() []domain.PracticeMove {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CloneMoves(e.session.Moves)
}

func (e *Engine) Stats() domain.PracticeStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Stats
}

// Hint lists the prepared moves at the current position.
func (e *Engine) Hint() []repertoire.Continuation {
	return e.nav.ExpectedMoves(e.Position())
}

func (e *Engine) terminationReason() (domain.CompletionReason, bool) {
	if limit := e.session.Config.MaxMoves; limit > 0 && e.plies >= limit {
		return domain.ReasonMoveLimit, true
	}
	if e.deps.Rules.IsTerminal(e.position) {
		return domain.ReasonGameOver, true
	}
	return "", false
}

func (e *Engine) playerTurnBlocked() (domain.CompletionReason, bool) {
	if reason, done := e.terminationReason(); done {
		return reason, true
	}
	if e.deps.StopWhenPlayerOutOfBook && !e.nav.HasPosition(e.position) {
		return domain.ReasonPlayerOutOfBook, true
	}
	return "", false
}

// suspend derives the context for a collaborator call that End can cancel.
// Caller holds the lock.
func (e *Engine) suspend(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	return callCtx, cancel
}

// record appends a move. Caller holds the lock.
func (e *Engine) record(m domain.PracticeMove) {
	e.session.Moves = append(e.session.Moves, m)
	e.session.Stats = domain.ComputeStats(e.session.Moves)
	e.persist.enqueue(persistJob{move: cloneMove(m)})
	e.pending = append(e.pending, e.event(Event{Kind: EventMoveRecorded, Move: cloneMove(m)}))
	e.logger.Info("practice_move",
		zap.Int("seq", m.Seq),
		zap.String("move", m.UserMove),
		zap.String("category", string(m.Category)),
		zap.Bool("reverted", m.Reverted),
	)
}

// complete moves to the terminal state. Caller holds the lock.
func (e *Engine) complete(reason domain.CompletionReason, failure error) {
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state = StateSessionComplete

	now := e.deps.Clock()
	e.session.EndedAt = &now
	e.session.Stats = domain.ComputeStats(e.session.Moves)
	e.session.CompletionReason = reason
	if failure != nil {
		e.session.Failed = true
		e.session.FailureReason = failure.Error()
	}

	result := domain.SessionResult{
		EndedAt:       now,
		Stats:         e.session.Stats,
		Reason:        reason,
		Failed:        e.session.Failed,
		FailureReason: e.session.FailureReason,
	}
	e.persist.enqueue(persistJob{result: &result})
	e.persist.close()

	stats := e.session.Stats
	e.pending = append(e.pending, e.event(Event{Kind: EventSessionComplete, Reason: reason, Stats: &stats, Err: failure}))

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("total_moves", stats.TotalMoves),
		zap.Int("accuracy", stats.AccuracyPercentage),
	}
	if failure != nil {
		e.logger.Error("practice_session_failed", append(fields, zap.Error(failure))...)
		return
	}
	e.logger.Info("practice_session_complete", fields...)
}

func (e *Engine) persistFailed(job persistJob, err error) {
	ev := Event{Kind: EventPersistenceFailed, Err: err, Move: job.move}
	if job.result != nil {
		ev.Reason = job.result.Reason
	}
	e.queueEvent(ev)
	e.drain()
}

// event stamps session identity and state. Caller holds the lock.
func (e *Engine) event(ev Event) Event {
	ev.SessionID = e.session.ID
	ev.State = e.state
	ev.At = e.deps.Clock()
	return ev
}

func (e *Engine) queueEvent(ev Event) {
	e.mu.Lock()
	e.pending = append(e.pending, e.event(ev))
	e.mu.Unlock()
}

// drain hands queued events to the observer outside the state lock, one
// drainer at a time so delivery keeps queue order.
func (e *Engine) drain() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.mu.Lock()
	events := e.pending
	e.pending = nil
	e.mu.Unlock()
	if e.deps.Observer == nil {
		return
	}
	for _, ev := range events {
		e.deps.Observer(ev)
	}
}

func cloneMove(m domain.PracticeMove) *domain.PracticeMove {
	return &domain.CloneMoves([]domain.PracticeMove{m})[0]
}
