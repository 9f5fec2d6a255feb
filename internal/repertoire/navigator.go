package repertoire

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/park285/cheese-repertoire/internal/domain"
)

// RandomSource picks variations when they are allowed.
type RandomSource interface {
	Intn(n int) int
}

// Navigator answers drill questions against a built Index. Positions may be
// passed as full FENs or as keys.
type Navigator struct {
	index           *Index
	allowVariations bool

	randMu sync.Mutex
	rand   RandomSource
}

type NavigatorOption func(*Navigator)

func WithVariations(allow bool) NavigatorOption {
	return func(n *Navigator) { n.allowVariations = allow }
}

func WithRandom(r RandomSource) NavigatorOption {
	return func(n *Navigator) {
		if r != nil {
			n.rand = r
		}
	}
}

func NewNavigator(index *Index, opts ...NavigatorOption) *Navigator {
	if index == nil {
		index = &Index{entries: map[string][]Continuation{}}
	}
	n := &Navigator{
		index: index,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Navigator) SetRandomSeed(seed int64) {
	n.randMu.Lock()
	n.rand = rand.New(rand.NewSource(seed))
	n.randMu.Unlock()
}

func (n *Navigator) Side() domain.Color { return n.index.side }


// OpponentReply chooses the prepared reply at position. With variations
// allowed any continuation may be picked; otherwise the main line is used,
// falling back to the first continuation recorded. ok is false when the
// position has no prepared continuation.
func (n *Navigator) OpponentReply(position string) (Continuation, bool) {
	set := n.index.entries[keyOf(position)]
	if len(set) == 0 {
		return Continuation{}, false
	}
	if n.allowVariations && len(set) > 1 {
		n.randMu.Lock()
		i := n.rand.Intn(len(set))
		n.randMu.Unlock()
		return set[i].clone(), true
	}
	return mainLine(set).clone(), true
}

// MainLine is the continuation shown as "the" expected move.
func (n *Navigator) MainLine(position string) (Continuation, bool) {
	set := n.index.entries[keyOf(position)]
	if len(set) == 0 {
		return Continuation{}, false
	}
	return mainLine(set).clone(), true
}

func mainLine(set []Continuation) Continuation {
	for _, c := range set {
		if c.IsMainLine {
			return c
		}
	}
	return set[0]
}

// IsExpectedMove matches move against the continuations at position by SAN
// or UCI.
func (n *Navigator) IsExpectedMove(position, move string) bool {
	for _, c := range n.index.entries[keyOf(position)] {
		if matches(c, move) {
			return true
		}
	}
	return false
}

func (n *Navigator) ExpectedMoves(position string) []Continuation {
	return n.index.Lookup(keyOf(position))
}

func (n *Navigator) HasPosition(position string) bool {
	return n.index.Has(keyOf(position))
}

func (n *Navigator) Size() int { return n.index.Size() }

// Positions lists every indexed position key, sorted.
func (n *Navigator) Positions() []string { return n.index.Keys() }

func keyOf(position string) string {
	key, err := corechess.PositionKey(position)
	if err != nil {
		return ""
	}
	return key
}

func matches(c Continuation, move string) bool {
	move = strings.TrimSpace(move)
	if move == "" {
		return false
	}
	if c.UCI != "" && strings.EqualFold(c.UCI, move) {
		return true
	}
	return c.SAN != "" && normalizeSAN(c.SAN) == normalizeSAN(move)
}

func normalizeSAN(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "+#!?")
}

// SANs flattens continuations to their SAN strings.
func SANs(set []Continuation) []string {
	out := make([]string, 0, len(set))
	for _, c := range set {
		out = append(out, c.SAN)
	}
	return out
}
