package chess

import (
	"errors"
	"fmt"
	"strings"
)

// InitialFEN is the standard starting position.
const InitialFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var ErrMalformedPosition = errors.New("malformed position")

// PositionKey reduces a FEN to placement, side to move, castling and
// en-passant. Clocks are dropped and the en-passant square is kept only when
// a capture onto it is actually available, so transposed move orders share a key.
// Four-field keys are accepted and returned in canonical form.
func PositionKey(fen string) (string, error) {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return "", fmt.Errorf("%w: %q has %d fields", ErrMalformedPosition, fen, len(fields))
	}
	placement, turn, castling, ep := fields[0], fields[1], fields[2], fields[3]

	board, err := parsePlacement(placement)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	if turn != "w" && turn != "b" {
		return "", fmt.Errorf("%w: side to move %q", ErrMalformedPosition, turn)
	}
	if castling == "" || strings.Trim(castling, "KQkq-") != "" {
		return "", fmt.Errorf("%w: castling %q", ErrMalformedPosition, castling)
	}
	if ep != "-" && !validSquare(ep) {
		return "", fmt.Errorf("%w: en-passant %q", ErrMalformedPosition, ep)
	}
	if ep != "-" && !epCapturable(board, turn, ep) {
		ep = "-"
	}
	return strings.Join([]string{placement, turn, castling, ep}, " "), nil
}

// board[rank][file], rank 0 is rank 1.
type placementBoard [8][8]byte

func parsePlacement(placement string) (placementBoard, error) {
	var b placementBoard
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return b, fmt.Errorf("placement has %d ranks", len(ranks))
	}
	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for _, r := range row {
			switch {
			case r >= '1' && r <= '8':
				file += int(r - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", r):
				if file > 7 {
					return b, fmt.Errorf("rank %d overflows", rank+1)
				}
				b[rank][file] = byte(r)
				file++
			default:
				return b, fmt.Errorf("unexpected piece %q", r)
			}
		}
		if file != 8 {
			return b, fmt.Errorf("rank %d has %d files", rank+1, file)
		}
	}
	return b, nil
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

func epCapturable(b placementBoard, turn, ep string) bool {
	file := int(ep[0] - 'a')
	var pawnRank int
	var pawn byte
	switch {
	case turn == "w" && ep[1] == '6':
		pawnRank, pawn = 4, 'P'
	case turn == "b" && ep[1] == '3':
		pawnRank, pawn = 3, 'p'
	default:
		return false
	}
	for _, f := range []int{file - 1, file + 1} {
		if f >= 0 && f < 8 && b[pawnRank][f] == pawn {
			return true
		}
	}
	return false
}
