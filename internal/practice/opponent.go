package practice

import (
	"context"
	"errors"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/repertoire"
)

// MoveSource supplies the opponent's next move. ok is false when it has
// nothing to offer at fen.
type MoveSource interface {
	Reply(ctx context.Context, fen string) (move string, ok bool, err error)
}

// RepertoireOpponent replies from the prepared lines.
type RepertoireOpponent struct {
	nav *repertoire.Navigator
}

func NewRepertoireOpponent(nav *repertoire.Navigator) *RepertoireOpponent {
	return &RepertoireOpponent{nav: nav}
}

func (o *RepertoireOpponent) Reply(_ context.Context, fen string) (string, bool, error) {
	c, ok := o.nav.OpponentReply(fen)
	if !ok {
		return "", false, nil
	}
	if c.UCI != "" {
		return c.UCI, true, nil
	}
	return c.SAN, true, nil
}

// BestReplier is an engine that proposes moves.
type BestReplier interface {
	BestReply(ctx context.Context, fen string) (string, error)
}

// EngineOpponent plays the engine's choice.
type EngineOpponent struct {
	engine BestReplier
}

func NewEngineOpponent(engine BestReplier) *EngineOpponent {
	return &EngineOpponent{engine: engine}
}

func (o *EngineOpponent) Reply(ctx context.Context, fen string) (string, bool, error) {
	move, err := o.engine.BestReply(ctx, fen)
	if errors.Is(err, corechess.ErrNoBestMove) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return move, true, nil
}

// FallbackOpponent asks each source in turn and plays the first answer.
type FallbackOpponent []MoveSource

func (f FallbackOpponent) Reply(ctx context.Context, fen string) (string, bool, error) {
	for _, src := range f {
		move, ok, err := src.Reply(ctx, fen)
		if err != nil {
			return "", false, err
		}
		if ok {
			return move, true, nil
		}
	}
	return "", false, nil
}
