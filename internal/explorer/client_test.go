package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mastersBody = `{"white":100,"draws":80,"black":60,"moves":[
	{"uci":"e2e4","san":"e4","white":40,"draws":30,"black":20,"averageRating":2500},
	{"uci":"b2b3","san":"b3","white":1,"draws":0,"black":2,"averageRating":2400}
]}`

func TestMovesQueriesMastersAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/masters", r.URL.Path)
		assert.Equal(t, corechess.InitialFEN, r.URL.Query().Get("fen"))
		assert.Equal(t, "0", r.URL.Query().Get("topGames"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(mastersBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	moves, err := c.Moves(context.Background(), corechess.InitialFEN)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	require.Equal(t, 90, moves[0].Games())

	key, err := corechess.PositionKey(corechess.InitialFEN)
	require.NoError(t, err)
	_, err = c.Moves(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())
}

func TestIsKnownStrongMoveUsesThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(mastersBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithMinGames(10))
	known, err := c.IsKnownStrongMove(context.Background(), corechess.InitialFEN, "e4")
	require.NoError(t, err)
	require.True(t, known)

	known, err = c.IsKnownStrongMove(context.Background(), corechess.InitialFEN, "b2b3")
	require.NoError(t, err)
	require.False(t, known)

	known, err = c.IsKnownStrongMove(context.Background(), corechess.InitialFEN, "h4")
	require.NoError(t, err)
	require.False(t, known)

	_, err = c.IsKnownStrongMove(context.Background(), corechess.InitialFEN, "Ke2")
	require.ErrorIs(t, err, corechess.ErrIllegalMove)
}

func TestRetriesOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(mastersBody))
	}))
	defer srv.Close()

	moves, err := NewClient(srv.URL, WithRetry(2)).Moves(context.Background(), corechess.InitialFEN)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	require.Equal(t, int32(2), hits.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "bad fen", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(3)).Moves(context.Background(), corechess.InitialFEN)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=400")
	require.Equal(t, int32(1), hits.Load())
}
