package repertoire

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
)

// MalformedRepertoireError reports a repertoire that cannot be indexed.
type MalformedRepertoireError struct {
	LineID string
	Reason string
	Err    error
}

func (e *MalformedRepertoireError) Error() string {
	msg := "malformed repertoire"
	if e.LineID != "" {
		msg += fmt.Sprintf(" (line %s)", e.LineID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRepertoireError) Unwrap() error { return e.Err }

// MoveApplier plays a move from a position and reports the result.
type MoveApplier interface {
	ApplyMove(ctx context.Context, fen, move string) (corechess.Applied, error)
}

// Continuation is one known move at an indexed position.
type Continuation struct {
	SAN        string
	UCI        string
	Comment    string
	IsMainLine bool
	ResultKey  string
	ResultFEN  string
	Openings   []string
}

func (c Continuation) clone() Continuation {
	c.Openings = append([]string(nil), c.Openings...)
	return c
}

// Index maps position keys to the continuations prepared there. It is
// immutable after Build.
type Index struct {
	side    domain.Color
	entries map[string][]Continuation
	edges   int
}

type buildOptions struct {
	applier   MoveApplier
	openingID string
}

type BuildOption func(*buildOptions)

// WithApplier replaces the rules engine used to replay the lines.
func WithApplier(a MoveApplier) BuildOption {
	return func(o *buildOptions) { o.applier = a }
}

// WithOpening limits the index to a single opening line.
func WithOpening(id string) BuildOption {
	return func(o *buildOptions) { o.openingID = strings.TrimSpace(id) }
}

// Build indexes every prepared move in rep by the position it is played
// from. side overrides rep.Color when set. Lines reaching the same position
// share one continuation set. Either the whole repertoire indexes or an
// error is returned.
func Build(rep domain.Repertoire, side domain.Color, opts ...BuildOption) (*Index, error) {
	o := buildOptions{applier: corechess.NewRules()}
	for _, opt := range opts {
		opt(&o)
	}
	if side == "" {
		side = rep.Color
	}
	if !side.Valid() {
		return nil, &MalformedRepertoireError{Reason: fmt.Sprintf("unknown side %q", side)}
	}

	lines := rep.Openings
	if o.openingID != "" {
		line, ok := rep.Opening(o.openingID)
		if !ok {
			return nil, &MalformedRepertoireError{LineID: o.openingID, Reason: "opening not found"}
		}
		lines = []domain.OpeningLine{line}
	}

	b := &builder{
		applier: o.applier,
		entries: make(map[string][]Continuation),
	}
	for _, line := range lines {
		if err := b.addLine(line); err != nil {
			return nil, err
		}
	}
	return &Index{side: side, entries: b.entries, edges: b.edges}, nil
}

type builder struct {
	applier MoveApplier
	entries map[string][]Continuation
	edges   int
}

func (b *builder) addLine(line domain.OpeningLine) error {
	start := strings.TrimSpace(line.StartingFEN)
	if start == "" {
		start = corechess.InitialFEN
	}
	if _, err := corechess.PositionKey(start); err != nil {
		return &MalformedRepertoireError{LineID: lineLabel(line), Reason: "bad starting position", Err: err}
	}
	return b.walk(line, corechess.ExpandFEN(start), line.Moves)
}

func (b *builder) walk(line domain.OpeningLine, parentFEN string, edges []domain.MoveEdge) error {
	parentKey, err := corechess.PositionKey(parentFEN)
	if err != nil {
		return &MalformedRepertoireError{LineID: lineLabel(line), Reason: "bad position", Err: err}
	}
	for _, edge := range edges {
		applied, err := b.play(parentFEN, edge)
		if err != nil {
			return &MalformedRepertoireError{
				LineID: lineLabel(line),
				Reason: fmt.Sprintf("move %q not playable from %s", edgeLabel(edge), parentKey),
				Err:    err,
			}
		}
		childKey, err := corechess.PositionKey(applied.FEN)
		if err != nil {
			return &MalformedRepertoireError{LineID: lineLabel(line), Reason: "bad position", Err: err}
		}
		b.insert(parentKey, Continuation{
			SAN:        applied.SAN,
			UCI:        applied.UCI,
			Comment:    strings.TrimSpace(edge.Comment),
			IsMainLine: edge.IsMainLine,
			ResultKey:  childKey,
			ResultFEN:  applied.FEN,
			Openings:   []string{lineLabel(line)},
		})
		if err := b.walk(line, applied.FEN, edge.Children); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) play(fen string, edge domain.MoveEdge) (corechess.Applied, error) {
	ctx := context.Background()
	uci := strings.TrimSpace(edge.UCI)
	san := strings.TrimSpace(edge.SAN)
	if uci != "" {
		applied, err := b.applier.ApplyMove(ctx, fen, uci)
		if err == nil || san == "" {
			return applied, err
		}
	}
	if san == "" {
		return corechess.Applied{}, fmt.Errorf("%w: edge has no move", corechess.ErrIllegalMove)
	}
	return b.applier.ApplyMove(ctx, fen, san)
}

// insert merges c into the set at key. An existing entry for the same move
// keeps its slot; the main-line flag is sticky and the first comment wins.
func (b *builder) insert(key string, c Continuation) {
	b.edges++
	set := b.entries[key]
	for i := range set {
		if !sameMove(set[i], c) {
			continue
		}
		if c.IsMainLine {
			set[i].IsMainLine = true
		}
		if set[i].Comment == "" {
			set[i].Comment = c.Comment
		}
		for _, name := range c.Openings {
			if !containsString(set[i].Openings, name) {
				set[i].Openings = append(set[i].Openings, name)
			}
		}
		return
	}
	b.entries[key] = append(set, c)
}

func sameMove(a, b Continuation) bool {
	if a.UCI != "" && b.UCI != "" {
		return a.UCI == b.UCI
	}
	return normalizeSAN(a.SAN) == normalizeSAN(b.SAN)
}

func lineLabel(line domain.OpeningLine) string {
	if line.Name != "" {
		return line.Name
	}
	return line.ID
}

func edgeLabel(e domain.MoveEdge) string {
	if e.SAN != "" {
		return e.SAN
	}
	return e.UCI
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (idx *Index) Side() domain.Color { return idx.side }

// Size is the number of distinct positions with prepared continuations.
func (idx *Index) Size() int { return len(idx.entries) }

// EdgeCount is the number of prepared moves walked during Build, before merging.
func (idx *Index) EdgeCount() int { return idx.edges }

func (idx *Index) Has(key string) bool {
	_, ok := idx.entries[key]
	return ok
}

// Lookup returns a copy of the continuations stored at key.
func (idx *Index) Lookup(key string) []Continuation {
	set := idx.entries[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]Continuation, len(set))
	for i, c := range set {
		out[i] = c.clone()
	}
	return out
}

// Keys returns every indexed position key in sorted order.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.entries))
	for k := range idx.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
