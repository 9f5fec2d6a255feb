package repertoire

import (
	"context"
	"errors"
	"testing"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/stretchr/testify/require"
)

// chain builds a single line of moves, each the main line.
func chain(sans ...string) []domain.MoveEdge {
	if len(sans) == 0 {
		return nil
	}
	return []domain.MoveEdge{{SAN: sans[0], IsMainLine: true, Children: chain(sans[1:]...)}}
}

func line(id string, sans ...string) domain.OpeningLine {
	return domain.OpeningLine{ID: id, Name: id, Moves: chain(sans...)}
}

func fenAfter(t *testing.T, moves ...string) string {
	t.Helper()
	rules := corechess.NewRules()
	fen := corechess.InitialFEN
	for _, mv := range moves {
		applied, err := rules.ApplyMove(context.Background(), fen, mv)
		require.NoError(t, err, "apply %s", mv)
		fen = applied.FEN
	}
	return fen
}

func keyAfter(t *testing.T, moves ...string) string {
	t.Helper()
	key, err := corechess.PositionKey(fenAfter(t, moves...))
	require.NoError(t, err)
	return key
}

func TestBuildIsDeterministic(t *testing.T) {
	rep := domain.Repertoire{
		ID:    "r1",
		Color: domain.White,
		Openings: []domain.OpeningLine{
			line("ruy", "e4", "e5", "Nf3", "Nc6", "Bb5"),
			line("italian", "e4", "e5", "Nf3", "Nc6", "Bc4"),
			line("qg", "d4", "d5", "c4"),
		},
	}

	first, err := Build(rep, "")
	require.NoError(t, err)
	second, err := Build(rep, "")
	require.NoError(t, err)

	require.Equal(t, first.Keys(), second.Keys())
	for _, key := range first.Keys() {
		require.Equal(t, first.Lookup(key), second.Lookup(key), key)
	}
	require.Equal(t, domain.White, first.Side())
}

func TestBuildMergesTranspositions(t *testing.T) {
	rep := domain.Repertoire{
		Color: domain.White,
		Openings: []domain.OpeningLine{
			line("ruy", "e4", "e5", "Nf3", "Nc6", "Bb5"),
			line("reversed", "Nf3", "Nc6", "e4", "e5", "Bc4"),
			line("ruy-again", "e4", "e5", "Nf3", "Nc6", "Bb5"),
		},
	}
	idx, err := Build(rep, domain.White)
	require.NoError(t, err)

	shared := keyAfter(t, "e4", "e5", "Nf3", "Nc6")
	require.Equal(t, shared, keyAfter(t, "Nf3", "Nc6", "e4", "e5"))

	set := idx.Lookup(shared)
	require.Equal(t, []string{"Bb5", "Bc4"}, SANs(set))
	require.Equal(t, []string{"ruy", "ruy-again"}, set[0].Openings)
	require.Equal(t, []string{"reversed"}, set[1].Openings)

	// Duplicated prefixes collapse too.
	require.Equal(t, []string{"e4", "Nf3"}, SANs(idx.Lookup(keyAfter(t))))
	require.Equal(t, 15, idx.EdgeCount())
}

func TestBuildMergeKeepsMainLineFlag(t *testing.T) {
	rep := domain.Repertoire{
		Color: domain.White,
		Openings: []domain.OpeningLine{
			{ID: "a", Moves: []domain.MoveEdge{{SAN: "e4"}}},
			{ID: "b", Moves: []domain.MoveEdge{{SAN: "d4"}}},
			{ID: "c", Moves: []domain.MoveEdge{{UCI: "d2d4", IsMainLine: true, Comment: "queen pawn"}}},
		},
	}
	idx, err := Build(rep, "")
	require.NoError(t, err)

	set := idx.Lookup(keyAfter(t))
	require.Len(t, set, 2)
	require.Equal(t, "d4", set[1].SAN)
	require.Equal(t, "d2d4", set[1].UCI)
	require.True(t, set[1].IsMainLine)
	require.Equal(t, "queen pawn", set[1].Comment)
}

func TestBuildPlaysUCIPieceMoves(t *testing.T) {
	rep := domain.Repertoire{
		Color: domain.White,
		Openings: []domain.OpeningLine{{ID: "reti", Moves: []domain.MoveEdge{{
			SAN: "Nf3", UCI: "g1f3", IsMainLine: true,
			Children: []domain.MoveEdge{{
				SAN: "d5", UCI: "d7d5", IsMainLine: true,
				Children: []domain.MoveEdge{{UCI: "b1c3", IsMainLine: true}},
			}},
		}}}},
	}
	idx, err := Build(rep, "")
	require.NoError(t, err)

	root := idx.Lookup(keyAfter(t))
	require.Len(t, root, 1)
	require.Equal(t, "Nf3", root[0].SAN)
	require.Equal(t, "g1f3", root[0].UCI)
	require.Equal(t, keyAfter(t, "Nf3"), root[0].ResultKey)

	third := idx.Lookup(keyAfter(t, "Nf3", "d5"))
	require.Equal(t, []string{"Nc3"}, SANs(third))

	nav := NewNavigator(idx)
	require.True(t, nav.IsExpectedMove(corechess.InitialFEN, "Nf3"))
	require.True(t, nav.IsExpectedMove(corechess.InitialFEN, "g1f3"))
	require.False(t, nav.IsExpectedMove(corechess.InitialFEN, "f3"))
}

func TestBuildRejectsMalformedStart(t *testing.T) {
	rep := domain.Repertoire{
		Color: domain.Black,
		Openings: []domain.OpeningLine{
			line("ok", "e4", "c5"),
			{ID: "broken", StartingFEN: "not a fen", Moves: chain("e4")},
		},
	}
	idx, err := Build(rep, "")
	require.Nil(t, idx)

	var malformed *MalformedRepertoireError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, "broken", malformed.LineID)
	require.ErrorIs(t, err, corechess.ErrMalformedPosition)
}

func TestBuildRejectsUnplayableMove(t *testing.T) {
	rep := domain.Repertoire{
		Color:    domain.White,
		Openings: []domain.OpeningLine{line("bad", "e4", "e5", "Ke3")},
	}
	_, err := Build(rep, "")

	var malformed *MalformedRepertoireError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, "bad", malformed.LineID)
	require.ErrorIs(t, err, corechess.ErrIllegalMove)
}

func TestBuildCustomStartingPosition(t *testing.T) {
	start := fenAfter(t, "e4", "e5")
	rep := domain.Repertoire{
		Color: domain.White,
		Openings: []domain.OpeningLine{
			{ID: "from-e4e5", StartingFEN: start, Moves: chain("Nf3", "Nc6")},
		},
	}
	idx, err := Build(rep, "")
	require.NoError(t, err)
	require.True(t, idx.Has(keyAfter(t, "e4", "e5")))
	require.False(t, idx.Has(keyAfter(t)))
	require.Equal(t, 2, idx.Size())
}

func TestBuildWithOpening(t *testing.T) {
	rep := domain.Repertoire{
		Color: domain.White,
		Openings: []domain.OpeningLine{
			line("ruy", "e4", "e5", "Nf3"),
			line("qg", "d4", "d5", "c4"),
		},
	}
	idx, err := Build(rep, "", WithOpening("qg"))
	require.NoError(t, err)
	require.Equal(t, []string{"d4"}, SANs(idx.Lookup(keyAfter(t))))

	_, err = Build(rep, "", WithOpening("missing"))
	var malformed *MalformedRepertoireError
	require.ErrorAs(t, err, &malformed)
}

func TestBuildRejectsUnknownSide(t *testing.T) {
	_, err := Build(domain.Repertoire{}, "")
	var malformed *MalformedRepertoireError
	require.ErrorAs(t, err, &malformed)
}

func TestBuildEmptyRepertoire(t *testing.T) {
	idx, err := Build(domain.Repertoire{Color: domain.Black}, "")
	require.NoError(t, err)
	require.Equal(t, 0, idx.Size())
	require.Empty(t, idx.Keys())
}
