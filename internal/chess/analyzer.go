package chess

import (
	"context"
	"errors"
	"fmt"
	"time"

	chesslib "github.com/corentings/chess/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/park285/cheese-repertoire/internal/chess/uci"
	"go.uber.org/zap"
)

const defaultEvalCacheSize = 4096

var ErrNoBestMove = errors.New("engine returned no move")

// Searcher runs one engine search for a position.
type Searcher interface {
	Search(ctx context.Context, fen string, limits uci.Limits) (uci.SearchResponse, error)
}

type AnalyzerConfig struct {
	Limits    uci.Limits
	CacheSize int
	Logger    *zap.Logger
}

// Analyzer scores positions in centipawns from White's point of view and
// proposes engine replies. Scores are cached per position key.
type Analyzer struct {
	searcher Searcher
	limits   uci.Limits
	cache    *lru.Cache[string, int]
	logger   *zap.Logger
}

func NewAnalyzer(searcher Searcher, cfg AnalyzerConfig) (*Analyzer, error) {
	if searcher == nil {
		return nil, fmt.Errorf("nil searcher")
	}
	limits := cfg.Limits
	if limits == (uci.Limits{}) {
		limits = DefaultLimits()
	}
	if err := ValidateLimits(limits); err != nil {
		return nil, err
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultEvalCacheSize
	}
	cache, err := lru.New[string, int](size)
	if err != nil {
		return nil, fmt.Errorf("init eval cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{searcher: searcher, limits: limits, cache: cache, logger: logger}, nil
}

// Evaluate returns a White-relative score for fen.
func (a *Analyzer) Evaluate(ctx context.Context, fen string) (int, error) {
	key, err := PositionKey(fen)
	if err != nil {
		return 0, err
	}
	if cp, ok := a.cache.Get(key); ok {
		return cp, nil
	}

	white := SideToMove(fen) == "w"
	var cp int
	if NewRules().IsTerminal(fen) {
		cp = terminalScore(fen, white)
	} else {
		start := time.Now()
		resp, err := a.searcher.Search(ctx, fen, a.limits)
		if err != nil {
			return 0, fmt.Errorf("evaluate: %w", err)
		}
		if len(resp.Candidates) == 0 {
			return 0, fmt.Errorf("evaluate: %w", ErrNoBestMove)
		}
		cp = resp.Candidates[0].ScoreCP
		if !white {
			cp = -cp
		}
		a.logger.Debug("position_evaluated",
			zap.String("key", key),
			zap.Int("score_cp", cp),
			zap.Duration("took", time.Since(start)),
		)
	}
	a.cache.Add(key, cp)
	return cp, nil
}

// BestReply returns the engine's preferred move in UCI notation.
func (a *Analyzer) BestReply(ctx context.Context, fen string) (string, error) {
	resp, err := a.searcher.Search(ctx, fen, a.limits)
	if err != nil {
		return "", fmt.Errorf("best reply: %w", err)
	}
	move := resp.BestMove
	if move == "" && len(resp.Candidates) > 0 {
		move = resp.Candidates[0].Move
	}
	if move == "" {
		return "", ErrNoBestMove
	}
	return move, nil
}

// Prefetch warms the cache for a batch of positions, stopping at the first
// failure or when ctx ends.
func (a *Analyzer) Prefetch(ctx context.Context, fens []string) (int, error) {
	done := 0
	for _, fen := range fens {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := a.Evaluate(ctx, fen); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// A side to move with no legal moves is either mated or stalemated.
func terminalScore(fen string, whiteToMove bool) int {
	game, err := buildGame(fen)
	if err != nil {
		return 0
	}
	if game.Method() != chesslib.Checkmate {
		return 0
	}
	if whiteToMove {
		return -uci.MateScore
	}
	return uci.MateScore
}

// PoolSearcher runs searches on engine processes borrowed from a pool.
type PoolSearcher struct {
	pool *uci.Pool
}

func NewPoolSearcher(pool *uci.Pool) *PoolSearcher {
	return &PoolSearcher{pool: pool}
}

func (p *PoolSearcher) Search(ctx context.Context, fen string, limits uci.Limits) (uci.SearchResponse, error) {
	eng, err := p.pool.Acquire(ctx)
	if err != nil {
		return uci.SearchResponse{}, err
	}
	var releaseErr error
	defer func() {
		p.pool.Release(eng, releaseErr)
	}()

	resp, err := eng.Search(ctx, uci.SearchRequest{FEN: ExpandFEN(fen), Limits: limits})
	if err != nil {
		releaseErr = err
		return uci.SearchResponse{}, err
	}
	return resp, nil
}

func (p *PoolSearcher) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Close()
}
