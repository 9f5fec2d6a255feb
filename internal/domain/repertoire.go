package domain

import (
	"fmt"
	"strings"
	"time"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	default:
		return "", fmt.Errorf("unknown color %q", s)
	}
}

func (c Color) Valid() bool { return c == White || c == Black }

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// MoveEdge is one prepared continuation. FEN is the stored position after the
// move; it is informational only.
type MoveEdge struct {
	SAN        string     `json:"move" yaml:"move"`
	UCI        string     `json:"uci,omitempty" yaml:"uci,omitempty"`
	FEN        string     `json:"fen,omitempty" yaml:"fen,omitempty"`
	Comment    string     `json:"comment,omitempty" yaml:"comment,omitempty"`
	IsMainLine bool       `json:"is_main_line,omitempty" yaml:"main,omitempty"`
	Children   []MoveEdge `json:"children,omitempty" yaml:"children,omitempty"`
}

type OpeningLine struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	ECO         string     `json:"eco,omitempty" yaml:"eco,omitempty"`
	StartingFEN string     `json:"starting_fen,omitempty" yaml:"starting_fen,omitempty"`
	Moves       []MoveEdge `json:"moves" yaml:"moves"`
}

type Repertoire struct {
	ID        string        `json:"id" yaml:"id"`
	UserID    string        `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Name      string        `json:"name" yaml:"name"`
	Color     Color         `json:"color" yaml:"color"`
	Openings  []OpeningLine `json:"openings" yaml:"openings"`
	CreatedAt time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"-"`
}

// Opening returns the opening line with the given id.
func (r *Repertoire) Opening(id string) (OpeningLine, bool) {
	if r == nil {
		return OpeningLine{}, false
	}
	for _, line := range r.Openings {
		if line.ID == id {
			return line, true
		}
	}
	return OpeningLine{}, false
}

// EdgeCount walks every line and counts the prepared moves.
func (r *Repertoire) EdgeCount() int {
	if r == nil {
		return 0
	}
	total := 0
	var walk func(edges []MoveEdge)
	walk = func(edges []MoveEdge) {
		for _, e := range edges {
			total++
			walk(e.Children)
		}
	}
	for _, line := range r.Openings {
		walk(line.Moves)
	}
	return total
}
