package chess

import (
	"fmt"
	"strings"
	"sync"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

func loadECO() *opening.BookECO {
	ecoOnce.Do(func() {
		ecoBook = opening.NewBookECO()
	})
	return ecoBook
}

// Classification is an ECO code and opening title.
type Classification struct {
	Code  string
	Title string
}

// Classify replays moves (SAN or UCI) from the initial position and returns
// the deepest matching ECO opening. An empty result means no match.
func Classify(moves []string) (Classification, error) {
	game := chesslib.NewGame()
	for _, raw := range moves {
		mv := strings.TrimSpace(raw)
		if mv == "" {
			continue
		}
		pos := game.Position()
		decoded, err := decodeMove(pos, mv)
		if err != nil {
			return Classification{}, err
		}
		if err := game.Move(decoded, nil); err != nil {
			return Classification{}, fmt.Errorf("%w: %q: %v", ErrIllegalMove, mv, err)
		}
	}
	if len(game.Moves()) == 0 {
		return Classification{}, nil
	}
	eco := loadECO().Find(game.Moves())
	if eco == nil {
		return Classification{}, nil
	}
	return Classification{Code: eco.Code(), Title: eco.Title()}, nil
}
