package chess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chesslib "github.com/corentings/chess/v2"
)

var ErrIllegalMove = errors.New("illegal move")

// Applied is a move accepted by the rules engine.
type Applied struct {
	FEN string
	SAN string
	UCI string
}

// Rules answers legality and game-end questions with corentings/chess.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

// ApplyMove plays move (UCI first, then SAN) from fen.
func (r *Rules) ApplyMove(ctx context.Context, fen, move string) (Applied, error) {
	if err := ctx.Err(); err != nil {
		return Applied{}, err
	}
	game, err := buildGame(fen)
	if err != nil {
		return Applied{}, err
	}
	raw := strings.TrimSpace(move)
	if raw == "" {
		return Applied{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}

	pos := game.Position()
	mv, err := decodeMove(pos, raw)
	if err != nil {
		return Applied{}, err
	}

	san := chesslib.AlgebraicNotation{}.Encode(pos, mv)
	uci := chesslib.UCINotation{}.Encode(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, raw, err)
	}
	return Applied{FEN: game.FEN(), SAN: san, UCI: uci}, nil
}

// decodeMove reads UCI before SAN: the SAN decoder accepts "g1f3" and
// returns the pawn push f2f3. UCI-shaped text never falls back to SAN.
func decodeMove(pos *chesslib.Position, raw string) (*chesslib.Move, error) {
	lower := strings.ToLower(raw)
	if uciShaped(lower) {
		mv, err := chesslib.UCINotation{}.Decode(pos, lower)
		if err != nil || mv == nil || !legalIn(pos, mv) {
			return nil, fmt.Errorf("%w: %q", ErrIllegalMove, raw)
		}
		return mv, nil
	}
	mv, err := chesslib.AlgebraicNotation{}.Decode(pos, raw)
	if err != nil || mv == nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, raw)
	}
	return mv, nil
}

func uciShaped(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return false
		}
	}
	return len(s) == 4 || strings.IndexByte("nbrq", s[4]) >= 0
}

func legalIn(pos *chesslib.Position, mv *chesslib.Move) bool {
	for _, valid := range pos.ValidMoves() {
		if valid.S1() == mv.S1() && valid.S2() == mv.S2() && valid.Promo() == mv.Promo() {
			return true
		}
	}
	return false
}

// IsTerminal reports checkmate, stalemate or any other concluded outcome.
func (r *Rules) IsTerminal(fen string) bool {
	game, err := buildGame(fen)
	if err != nil {
		return false
	}
	return game.Outcome() != chesslib.NoOutcome
}

// SideToMove returns "w" or "b" for a FEN.
func SideToMove(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func buildGame(fen string) (*chesslib.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return chesslib.NewGame(), nil
	}
	option, err := chesslib.FEN(ExpandFEN(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: parse fen %q: %v", ErrMalformedPosition, fen, err)
	}
	return chesslib.NewGame(option), nil
}

// ExpandFEN appends zeroed clocks to a four-field key.
func ExpandFEN(fen string) string {
	fen = strings.TrimSpace(fen)
	if len(strings.Fields(fen)) == 4 {
		return fen + " 0 1"
	}
	return fen
}
