package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Strictness string

const (
	StrictnessStrict   Strictness = "strict"
	StrictnessFlexible Strictness = "flexible"
)

type Mode string

const (
	ModeRandom   Mode = "random"
	ModeSpecific Mode = "specific"
)

const DefaultMaxMoves = 30

// PracticeConfig holds the options a drill session recognizes. MaxMoves of 0
// means unlimited.
type PracticeConfig struct {
	MaxMoves        int        `json:"max_moves" toml:"max_moves"`
	Strictness      Strictness `json:"strictness" toml:"strictness"`
	AllowVariations bool       `json:"allow_variations" toml:"allow_variations"`
	Mode            Mode       `json:"mode" toml:"mode"`
	OpeningID       string     `json:"opening_id,omitempty" toml:"opening_id"`
}

func DefaultPracticeConfig() PracticeConfig {
	return PracticeConfig{
		MaxMoves:        DefaultMaxMoves,
		Strictness:      StrictnessFlexible,
		AllowVariations: false,
		Mode:            ModeRandom,
	}
}

func (c PracticeConfig) Validate() error {
	if c.MaxMoves < 0 {
		return fmt.Errorf("max moves must be >= 0: %d", c.MaxMoves)
	}
	switch c.Strictness {
	case StrictnessStrict, StrictnessFlexible:
	default:
		return fmt.Errorf("unknown strictness %q", c.Strictness)
	}
	switch c.Mode {
	case ModeRandom:
	case ModeSpecific:
		if strings.TrimSpace(c.OpeningID) == "" {
			return fmt.Errorf("specific mode requires an opening id")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

type Category string

const (
	CategoryCorrect   Category = "correct"
	CategoryIncorrect Category = "incorrect"

	CategoryBook       Category = "book"
	CategoryBest       Category = "best"
	CategoryGood       Category = "good"
	CategoryInaccuracy Category = "inaccuracy"
	CategoryMistake    Category = "mistake"
	CategoryBlunder    Category = "blunder"
)

// IsCorrect reports whether the category counts toward accuracy.
func (c Category) IsCorrect() bool {
	switch c {
	case CategoryCorrect, CategoryBook, CategoryBest, CategoryGood:
		return true
	}
	return false
}

// IsMistake reports whether a strict session rolls the move back.
func (c Category) IsMistake() bool {
	switch c {
	case CategoryIncorrect, CategoryMistake, CategoryBlunder:
		return true
	}
	return false
}

type MoveQuality struct {
	EvalBefore    int `json:"eval_before"`
	EvalAfter     int `json:"eval_after"`
	CentipawnLoss int `json:"centipawn_loss"`
}

type PracticeMove struct {
	Seq           int          `json:"seq"`
	Ply           int          `json:"ply"`
	FENBefore     string       `json:"fen_before"`
	FENAfter      string       `json:"fen_after"`
	UserMove      string       `json:"user_move"`
	UserMoveUCI   string       `json:"user_move_uci"`
	ExpectedMove  string       `json:"expected_move,omitempty"`
	ExpectedMoves []string     `json:"expected_moves,omitempty"`
	Category      Category     `json:"category"`
	Reverted      bool         `json:"reverted,omitempty"`
	Quality       *MoveQuality `json:"quality,omitempty"`
	RecordedAt    time.Time    `json:"recorded_at"`
}

type PracticeStats struct {
	TotalMoves         int `json:"total_moves"`
	CorrectMoves       int `json:"correct_moves"`
	Mistakes           int `json:"mistakes"`
	BookMoves          int `json:"book_moves"`
	BestMoves          int `json:"best_moves"`
	GoodMoves          int `json:"good_moves"`
	Inaccuracies       int `json:"inaccuracies"`
	Blunders           int `json:"blunders"`
	AccuracyPercentage int `json:"accuracy_percentage"`
}

// ComputeStats derives the aggregate from the recorded moves.
func ComputeStats(moves []PracticeMove) PracticeStats {
	var s PracticeStats
	for _, m := range moves {
		s.TotalMoves++
		switch m.Category {
		case CategoryBook:
			s.BookMoves++
		case CategoryBest:
			s.BestMoves++
		case CategoryGood:
			s.GoodMoves++
		case CategoryInaccuracy:
			s.Inaccuracies++
		case CategoryBlunder:
			s.Blunders++
		}
		if m.Category.IsCorrect() {
			s.CorrectMoves++
		}
		if m.Category.IsMistake() {
			s.Mistakes++
		}
	}
	s.AccuracyPercentage = Accuracy(s.CorrectMoves, s.TotalMoves)
	return s
}

// Accuracy is round(100*correct/total); 0 when nothing was played.
func Accuracy(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100 / float64(total)))
}

type CompletionReason string

const (
	ReasonMoveLimit       CompletionReason = "move_limit"
	ReasonGameOver        CompletionReason = "game_over"
	ReasonOutOfBook       CompletionReason = "out_of_repertoire"
	ReasonPlayerOutOfBook CompletionReason = "player_out_of_repertoire"
	ReasonEndedByUser     CompletionReason = "ended_by_user"
	ReasonOpponentError   CompletionReason = "opponent_error"
)

type PracticeSession struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	RepertoireID     string           `json:"repertoire_id"`
	Color            Color            `json:"color"`
	Config           PracticeConfig   `json:"config"`
	StartFEN         string           `json:"start_fen"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	Moves            []PracticeMove   `json:"moves"`
	Stats            PracticeStats    `json:"stats"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	Failed           bool             `json:"failed,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
}

func (s *PracticeSession) Finished() bool { return s != nil && s.EndedAt != nil }

// Clone returns a deep copy safe to hand to readers.
func (s *PracticeSession) Clone() *PracticeSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Moves = CloneMoves(s.Moves)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func CloneMoves(moves []PracticeMove) []PracticeMove {
	out := make([]PracticeMove, len(moves))
	for i, m := range moves {
		out[i] = m
		out[i].ExpectedMoves = append([]string(nil), m.ExpectedMoves...)
		if m.Quality != nil {
			q := *m.Quality
			out[i].Quality = &q
		}
	}
	return out
}

// SessionResult is what gets persisted when a session finishes.
type SessionResult struct {
	EndedAt       time.Time        `json:"ended_at"`
	Stats         PracticeStats    `json:"stats"`
	Reason        CompletionReason `json:"reason"`
	Failed        bool             `json:"failed,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
}
