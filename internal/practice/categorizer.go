package practice

import (
	"context"
	"fmt"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/repertoire"
	"go.uber.org/zap"
)

// MoveInput describes a legal player move about to be graded.
type MoveInput struct {
	Before string
	After  string
	Move   corechess.Applied
	Side   domain.Color
}

type Verdict struct {
	Category domain.Category
	Quality  *domain.MoveQuality
}

type Categorizer interface {
	Categorize(ctx context.Context, in MoveInput) (Verdict, error)
}

// Evaluator scores a position in centipawns from White's point of view.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (int, error)
}

// BookOracle recognizes established moves independent of the repertoire.
type BookOracle interface {
	IsKnownStrongMove(ctx context.Context, fen, move string) (bool, error)
}

// BinaryCategorizer grades a move correct when it is one of the prepared
// continuations.
type BinaryCategorizer struct {
	nav *repertoire.Navigator
}

func NewBinaryCategorizer(nav *repertoire.Navigator) *BinaryCategorizer {
	return &BinaryCategorizer{nav: nav}
}

func (c *BinaryCategorizer) Categorize(_ context.Context, in MoveInput) (Verdict, error) {
	if c.nav.IsExpectedMove(in.Before, in.Move.UCI) || c.nav.IsExpectedMove(in.Before, in.Move.SAN) {
		return Verdict{Category: domain.CategoryCorrect}, nil
	}
	return Verdict{Category: domain.CategoryIncorrect}, nil
}

// Thresholds are inclusive upper bounds on centipawn loss.
type Thresholds struct {
	Best       int
	Good       int
	Inaccuracy int
	Mistake    int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Best: 10, Good: 50, Inaccuracy: 100, Mistake: 200}
}

func (t Thresholds) Validate() error {
	if t.Best < 0 || t.Good < t.Best || t.Inaccuracy < t.Good || t.Mistake < t.Inaccuracy {
		return fmt.Errorf("thresholds must be ascending and non-negative: %+v", t)
	}
	return nil
}

func (t Thresholds) Classify(loss int) domain.Category {
	switch {
	case loss <= t.Best:
		return domain.CategoryBest
	case loss <= t.Good:
		return domain.CategoryGood
	case loss <= t.Inaccuracy:
		return domain.CategoryInaccuracy
	case loss <= t.Mistake:
		return domain.CategoryMistake
	default:
		return domain.CategoryBlunder
	}
}

// CentipawnLoss is how much the mover's evaluation dropped, never negative.
func CentipawnLoss(before, after int, side domain.Color) int {
	if side == domain.Black {
		before, after = -before, -after
	}
	if loss := before - after; loss > 0 {
		return loss
	}
	return 0
}

// QualityCategorizer grades by evaluation loss. A book hit wins outright and
// skips evaluation.
type QualityCategorizer struct {
	eval       Evaluator
	book       BookOracle
	thresholds Thresholds
	logger     *zap.Logger
}

func NewQualityCategorizer(eval Evaluator, book BookOracle, thresholds Thresholds, logger *zap.Logger) (*QualityCategorizer, error) {
	if eval == nil {
		return nil, fmt.Errorf("quality grading requires an evaluator")
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityCategorizer{eval: eval, book: book, thresholds: thresholds, logger: logger}, nil
}

func (c *QualityCategorizer) Categorize(ctx context.Context, in MoveInput) (Verdict, error) {
	if c.book != nil {
		known, err := c.book.IsKnownStrongMove(ctx, in.Before, in.Move.UCI)
		if err != nil {
			c.logger.Warn("book_lookup_failed", zap.String("move", in.Move.UCI), zap.Error(err))
		} else if known {
			return Verdict{Category: domain.CategoryBook}, nil
		}
	}

	before, err := c.eval.Evaluate(ctx, in.Before)
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluate before: %w", err)
	}
	after, err := c.eval.Evaluate(ctx, in.After)
	if err != nil {
		return Verdict{}, fmt.Errorf("evaluate after: %w", err)
	}
	loss := CentipawnLoss(before, after, in.Side)
	return Verdict{
		Category: c.thresholds.Classify(loss),
		Quality:  &domain.MoveQuality{EvalBefore: before, EvalAfter: after, CentipawnLoss: loss},
	}, nil
}

// OracleChain reports a move as known when any oracle does. Failing oracles
// are skipped.
type OracleChain struct {
	oracles []BookOracle
	logger  *zap.Logger
}

func NewOracleChain(logger *zap.Logger, oracles ...BookOracle) *OracleChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]BookOracle, 0, len(oracles))
	for _, o := range oracles {
		if o != nil {
			out = append(out, o)
		}
	}
	return &OracleChain{oracles: out, logger: logger}
}

func (c *OracleChain) Len() int { return len(c.oracles) }

func (c *OracleChain) IsKnownStrongMove(ctx context.Context, fen, move string) (bool, error) {
	for _, o := range c.oracles {
		known, err := o.IsKnownStrongMove(ctx, fen, move)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			c.logger.Warn("book_oracle_failed", zap.String("oracle", fmt.Sprintf("%T", o)), zap.Error(err))
			continue
		}
		if known {
			return true, nil
		}
	}
	return false, nil
}

// RepertoireOracle treats the user's own prepared moves as book.
type RepertoireOracle struct {
	nav *repertoire.Navigator
}

func NewRepertoireOracle(nav *repertoire.Navigator) *RepertoireOracle {
	return &RepertoireOracle{nav: nav}
}

func (o *RepertoireOracle) IsKnownStrongMove(_ context.Context, fen, move string) (bool, error) {
	return o.nav.IsExpectedMove(fen, move), nil
}
