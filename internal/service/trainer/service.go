package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/practice"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	"github.com/park285/cheese-repertoire/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrRepertoireNotFound = errors.New("repertoire not found")
	ErrSessionNotFound    = errors.New("practice session not found")
	ErrSessionInProgress  = errors.New("practice session already in progress")
	ErrUserRequired       = errors.New("user id required")
	ErrNotReady           = errors.New("trainer service not initialized")
	ErrInvalidConfig      = errors.New("invalid practice config")
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
	prefetchTimeout     = 30 * time.Second
)

const (
	CategorizerBinary  = "binary"
	CategorizerQuality = "quality"
)

// LiveStore mirrors running sessions somewhere other processes can read them.
type LiveStore interface {
	Save(ctx context.Context, session *domain.PracticeSession) error
	practice.Recorder
}

// Prefetcher warms evaluations for the positions a session will visit.
type Prefetcher interface {
	Prefetch(ctx context.Context, fens []string) (int, error)
}

type Config struct {
	Practice                domain.PracticeConfig
	Categorizer             string
	Thresholds              practice.Thresholds
	StopWhenPlayerOutOfBook bool
	// EngineFallback lets the engine reply once the prepared lines run out.
	EngineFallback bool
	HistoryLimit   int
	PersistTimeout time.Duration
}

type Deps struct {
	Repo      storage.Repository
	Live      LiveStore
	Rules     *corechess.Rules
	Evaluator practice.Evaluator
	Books     []practice.BookOracle
	Engine    practice.BestReplier
	Observer  practice.Observer
	Clock     func() time.Time
	NewID     func() string
}

type SessionMeta struct {
	UserID string
}

// StartOptions override the configured practice defaults for one session.
type StartOptions struct {
	RepertoireID    string
	MaxMoves        *int
	Strictness      domain.Strictness
	AllowVariations *bool
	OpeningID       string
	Seed            int64
}

type SessionState struct {
	Session      *domain.PracticeSession
	State        practice.State
	FEN          string
	Plies        int
	LastOpponent *corechess.Applied
}

type MoveSummary struct {
	Input   string
	Outcome practice.MoveOutcome
	State   *SessionState
}

type RepertoireReport struct {
	Repertoire *domain.Repertoire
	Positions  int
	Edges      int
}

type liveSession struct {
	engine *practice.Engine

	mu   sync.Mutex
	last *corechess.Applied
}

func (l *liveSession) observe(ev practice.Event) {
	if ev.Kind != practice.EventOpponentMoved || ev.Opponent == nil {
		return
	}
	applied := *ev.Opponent
	l.mu.Lock()
	l.last = &applied
	l.mu.Unlock()
}

func (l *liveSession) lastOpponent() *corechess.Applied {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	applied := *l.last
	return &applied
}

type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]*liveSession
}

func NewService(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Rules == nil {
		deps.Rules = corechess.NewRules()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if cfg.Practice == (domain.PracticeConfig{}) {
		cfg.Practice = domain.DefaultPracticeConfig()
	}
	if err := cfg.Practice.Validate(); err != nil {
		return nil, fmt.Errorf("practice defaults: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Categorizer)) {
	case "", CategorizerBinary:
		cfg.Categorizer = CategorizerBinary
	case CategorizerQuality:
		cfg.Categorizer = CategorizerQuality
		if deps.Evaluator == nil {
			return nil, fmt.Errorf("quality categorizer requires an evaluator")
		}
	default:
		return nil, fmt.Errorf("unknown categorizer %q", cfg.Categorizer)
	}
	if cfg.Thresholds == (practice.Thresholds{}) {
		cfg.Thresholds = practice.DefaultThresholds()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = maxHistoryLimit
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		active: make(map[string]*liveSession),
	}, nil
}

// ImportRepertoire indexes rep for its own side to prove every line replays,
// then stores it.
func (s *Service) ImportRepertoire(ctx context.Context, meta SessionMeta, rep *domain.Repertoire) (*RepertoireReport, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if rep == nil || strings.TrimSpace(rep.ID) == "" {
		return nil, fmt.Errorf("repertoire id required")
	}
	if user := strings.TrimSpace(meta.UserID); user != "" {
		rep.UserID = user
	}
	idx, err := repertoire.Build(*rep, rep.Color, repertoire.WithApplier(s.deps.Rules))
	if err != nil {
		return nil, err
	}
	if err := s.deps.Repo.SaveRepertoire(ctx, rep); err != nil {
		return nil, fmt.Errorf("save repertoire: %w", err)
	}
	s.logger.Info("repertoire_imported",
		zap.String("repertoire_id", rep.ID),
		zap.String("color", string(rep.Color)),
		zap.Int("positions", idx.Size()),
		zap.Int("edges", idx.EdgeCount()),
	)
	return &RepertoireReport{Repertoire: rep, Positions: idx.Size(), Edges: idx.EdgeCount()}, nil
}

func (s *Service) Inspect(ctx context.Context, repertoireID string) (*RepertoireReport, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	rep, err := s.loadRepertoire(ctx, repertoireID)
	if err != nil {
		return nil, err
	}
	idx, err := repertoire.Build(*rep, rep.Color, repertoire.WithApplier(s.deps.Rules))
	if err != nil {
		return nil, err
	}
	return &RepertoireReport{Repertoire: rep, Positions: idx.Size(), Edges: idx.EdgeCount()}, nil
}

func (s *Service) Repertoires(ctx context.Context, meta SessionMeta) ([]storage.RepertoireSummary, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.deps.Repo.ListRepertoires(ctx, strings.TrimSpace(meta.UserID))
}

// StartSession opens a drill on a stored repertoire. A finished session of
// the same user is replaced; a running one is an error.
func (s *Service) StartSession(ctx context.Context, meta SessionMeta, opts StartOptions) (*SessionState, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(meta.UserID)
	if userID == "" {
		return nil, ErrUserRequired
	}

	s.mu.Lock()
	if cur, ok := s.active[userID]; ok && cur.engine.State() != practice.StateSessionComplete {
		s.mu.Unlock()
		return nil, ErrSessionInProgress
	}
	s.mu.Unlock()

	rep, err := s.loadRepertoire(ctx, opts.RepertoireID)
	if err != nil {
		return nil, err
	}
	cfg := s.practiceConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	buildOpts := []repertoire.BuildOption{repertoire.WithApplier(s.deps.Rules)}
	startFEN := corechess.InitialFEN
	if cfg.Mode == domain.ModeSpecific {
		buildOpts = append(buildOpts, repertoire.WithOpening(cfg.OpeningID))
		if line, ok := rep.Opening(cfg.OpeningID); ok && strings.TrimSpace(line.StartingFEN) != "" {
			startFEN = line.StartingFEN
		}
	}
	idx, err := repertoire.Build(*rep, rep.Color, buildOpts...)
	if err != nil {
		return nil, err
	}
	nav := repertoire.NewNavigator(idx, repertoire.WithVariations(cfg.AllowVariations))
	if opts.Seed != 0 {
		nav.SetRandomSeed(opts.Seed)
	}

	session := &domain.PracticeSession{
		ID:           s.deps.NewID(),
		UserID:       userID,
		RepertoireID: rep.ID,
		Color:        rep.Color,
		Config:       cfg,
		StartFEN:     corechess.ExpandFEN(startFEN),
		StartedAt:    s.deps.Clock(),
		Moves:        []domain.PracticeMove{},
	}
	if err := s.deps.Repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if s.deps.Live != nil {
		if err := s.deps.Live.Save(ctx, session); err != nil {
			s.logger.Warn("live_session_save_failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	categorizer, err := s.categorizer(nav)
	if err != nil {
		return nil, err
	}
	live := &liveSession{}
	engine, err := practice.New(session.Clone(), nav, practice.Deps{
		Rules:                   s.deps.Rules,
		Categorizer:             categorizer,
		Opponent:                s.opponent(nav),
		Recorder:                s.recorder(),
		Observer:                practice.Observers(live.observe, s.deps.Observer),
		Logger:                  s.logger,
		Clock:                   s.deps.Clock,
		StopWhenPlayerOutOfBook: s.cfg.StopWhenPlayerOutOfBook,
		PersistTimeout:          s.cfg.PersistTimeout,
	})
	if err != nil {
		return nil, err
	}
	live.engine = engine

	s.mu.Lock()
	if cur, ok := s.active[userID]; ok && cur.engine.State() != practice.StateSessionComplete {
		s.mu.Unlock()
		engine.End(ctx)
		return nil, ErrSessionInProgress
	}
	s.active[userID] = live
	s.mu.Unlock()

	s.prefetch(nav)
	if err := engine.Start(ctx); err != nil {
		return nil, err
	}
	return s.stateOf(live), nil
}

func (s *Service) Status(ctx context.Context, meta SessionMeta) (*SessionState, error) {
	live, err := s.lookup(meta)
	if err != nil {
		return nil, err
	}
	return s.stateOf(live), nil
}

// Play submits one player move. Rejections are reported in the summary, not
// as errors.
func (s *Service) Play(ctx context.Context, meta SessionMeta, move string) (*MoveSummary, error) {
	live, err := s.lookup(meta)
	if err != nil {
		return nil, err
	}
	outcome, err := live.engine.SubmitMove(ctx, strings.TrimSpace(move))
	if err != nil {
		return nil, err
	}
	return &MoveSummary{Input: move, Outcome: outcome, State: s.stateOf(live)}, nil
}

func (s *Service) Hint(ctx context.Context, meta SessionMeta) ([]repertoire.Continuation, error) {
	live, err := s.lookup(meta)
	if err != nil {
		return nil, err
	}
	if live.engine.State() == practice.StateSessionComplete {
		return nil, practice.ErrSessionComplete
	}
	return live.engine.Hint(), nil
}

// End stops the user's session and waits for its records to be written.
func (s *Service) End(ctx context.Context, meta SessionMeta) (*SessionState, error) {
	live, err := s.lookup(meta)
	if err != nil {
		return nil, err
	}
	live.engine.End(ctx)
	live.engine.Wait()

	s.mu.Lock()
	if s.active[strings.TrimSpace(meta.UserID)] == live {
		delete(s.active, strings.TrimSpace(meta.UserID))
	}
	s.mu.Unlock()
	return s.stateOf(live), nil
}

func (s *Service) History(ctx context.Context, meta SessionMeta, limit int) ([]*domain.PracticeSession, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(meta.UserID)
	if userID == "" {
		return nil, ErrUserRequired
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.deps.Repo.RecentSessions(ctx, userID, limit)
}

// Session loads a stored session of the user, moves included.
func (s *Service) Session(ctx context.Context, meta SessionMeta, sessionID string) (*domain.PracticeSession, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	session, err := s.deps.Repo.GetSession(ctx, strings.TrimSpace(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if user := strings.TrimSpace(meta.UserID); user != "" && session.UserID != user {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Close ends every running session and flushes their records.
func (s *Service) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	running := make([]*liveSession, 0, len(s.active))
	for user, live := range s.active {
		running = append(running, live)
		delete(s.active, user)
	}
	s.mu.Unlock()
	for _, live := range running {
		live.engine.End(ctx)
		live.engine.Wait()
	}
}

func (s *Service) ensureReady() error {
	if s == nil || s.deps.Repo == nil {
		return ErrNotReady
	}
	return nil
}

func (s *Service) lookup(meta SessionMeta) (*liveSession, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(meta.UserID)
	if userID == "" {
		return nil, ErrUserRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.active[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live, nil
}

func (s *Service) loadRepertoire(ctx context.Context, id string) (*domain.Repertoire, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrRepertoireNotFound
	}
	rep, err := s.deps.Repo.LoadRepertoire(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrRepertoireNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (s *Service) practiceConfig(opts StartOptions) domain.PracticeConfig {
	cfg := s.cfg.Practice
	if opts.MaxMoves != nil {
		cfg.MaxMoves = *opts.MaxMoves
	}
	if opts.Strictness != "" {
		cfg.Strictness = opts.Strictness
	}
	if opts.AllowVariations != nil {
		cfg.AllowVariations = *opts.AllowVariations
	}
	if id := strings.TrimSpace(opts.OpeningID); id != "" {
		cfg.Mode = domain.ModeSpecific
		cfg.OpeningID = id
	}
	return cfg
}

func (s *Service) categorizer(nav *repertoire.Navigator) (practice.Categorizer, error) {
	if s.cfg.Categorizer != CategorizerQuality {
		return practice.NewBinaryCategorizer(nav), nil
	}
	oracles := append([]practice.BookOracle{practice.NewRepertoireOracle(nav)}, s.deps.Books...)
	chain := practice.NewOracleChain(s.logger, oracles...)
	return practice.NewQualityCategorizer(s.deps.Evaluator, chain, s.cfg.Thresholds, s.logger)
}

func (s *Service) opponent(nav *repertoire.Navigator) practice.MoveSource {
	book := practice.NewRepertoireOpponent(nav)
	if !s.cfg.EngineFallback || s.deps.Engine == nil {
		return book
	}
	return practice.FallbackOpponent{book, practice.NewEngineOpponent(s.deps.Engine)}
}

func (s *Service) recorder() practice.Recorder {
	if s.deps.Live == nil {
		return s.deps.Repo
	}
	return practice.MultiRecorder{s.deps.Repo, s.deps.Live}
}

// prefetch warms the evaluator in the background; drills never wait on it.
func (s *Service) prefetch(nav *repertoire.Navigator) {
	p, ok := s.deps.Evaluator.(Prefetcher)
	if !ok || s.cfg.Categorizer != CategorizerQuality {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()
		keys := nav.Positions()
		fens := make([]string, len(keys))
		for i, key := range keys {
			fens[i] = corechess.ExpandFEN(key)
		}
		n, err := p.Prefetch(ctx, fens)
		if err != nil {
			s.logger.Debug("prefetch_incomplete", zap.Int("evaluated", n), zap.Error(err))
		}
	}()
}

func (s *Service) stateOf(live *liveSession) *SessionState {
	return &SessionState{
		Session:      live.engine.Snapshot(),
		State:        live.engine.State(),
		FEN:          live.engine.Position(),
		Plies:        live.engine.Plies(),
		LastOpponent: live.lastOpponent(),
	}
}
