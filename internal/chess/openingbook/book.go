package openingbook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	corechess "github.com/park285/cheese-repertoire/internal/chess"
)

const defaultMinWeight = 1

// Result is one book move for a position.
type Result struct {
	Move   string
	Weight uint16
}

// Book answers "is this a known strong move" from a Polyglot opening book.
type Book struct {
	book      *chesslib.PolyglotBook
	minWeight uint16
	rules     *corechess.Rules
}

func New(book *chesslib.PolyglotBook, minWeight int) *Book {
	if minWeight <= 0 {
		minWeight = defaultMinWeight
	}
	if minWeight > 0xffff {
		minWeight = 0xffff
	}
	return &Book{book: book, minWeight: uint16(minWeight), rules: corechess.NewRules()}
}

// Open loads a Polyglot book from disk.
func Open(path string, minWeight int) (*Book, error) {
	b, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	return New(b, minWeight), nil
}

func LoadFromPath(bookPath string) (*chesslib.PolyglotBook, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(bookPath)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return book, nil
}

// ResolvePath picks the configured path or the first default that exists.
// An empty result with nil error means no book is available.
func ResolvePath(configured string) (string, error) {
	if p := strings.TrimSpace(configured); p != "" {
		if exists(p) {
			return p, nil
		}
		return "", fmt.Errorf("polyglot book points to missing file: %s", p)
	}
	for _, candidate := range defaultBookPaths() {
		if exists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func defaultBookPaths() []string {
	return []string{
		filepath.Join("resources", "opening", "book.bin"),
		filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
	}
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Moves lists the book moves at fen, heaviest first, skipping entries under
// the minimum weight.
func (b *Book) Moves(fen string) ([]Result, error) {
	if b == nil || b.book == nil {
		return nil, nil
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(corechess.ExpandFEN(fen))
	if err != nil {
		return nil, fmt.Errorf("compute polyglot hash: %w", err)
	}
	entries := b.book.FindMoves(chesslib.ZobristHashToUint64(hashStr))

	out := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if entry.Weight < b.minWeight {
			continue
		}
		move := chesslib.DecodeMove(entry.Move).ToMove()
		out = append(out, Result{Move: normalizeCastling(move.String()), Weight: entry.Weight})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

func (b *Book) IsKnownStrongMove(ctx context.Context, fen, move string) (bool, error) {
	if b == nil || b.book == nil {
		return false, nil
	}
	applied, err := b.rules.ApplyMove(ctx, fen, move)
	if err != nil {
		return false, err
	}
	results, err := b.Moves(fen)
	if err != nil {
		return false, err
	}
	return containsMove(results, applied.UCI), nil
}

func containsMove(results []Result, uci string) bool {
	target := normalizeCastling(strings.ToLower(strings.TrimSpace(uci)))
	for _, r := range results {
		if r.Move == target {
			return true
		}
	}
	return false
}

// Polyglot encodes castling as the king capturing its own rook.
func normalizeCastling(move string) string {
	switch move {
	case "e1h1":
		return "e1g1"
	case "e1a1":
		return "e1c1"
	case "e8h8":
		return "e8g8"
	case "e8a8":
		return "e8c8"
	}
	return move
}
