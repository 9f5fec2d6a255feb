package eventfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-repertoire/internal/domain"
	"github.com/park285/cheese-repertoire/internal/practice"
	"github.com/park285/cheese-repertoire/pkg/practicedto"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	var hello practicedto.Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	require.Equal(t, practicedto.EventHello, hello.Kind)
	return conn
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHubBroadcastsEngineEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	all := dial(t, ctx, wsURL(srv))
	only := dial(t, ctx, wsURL(srv)+"?session=s-2")
	require.Equal(t, 2, hub.Subscribers())

	observe := hub.Observer()
	observe(practice.Event{
		Kind:      practice.EventMoveRecorded,
		SessionID: "s-1",
		State:     practice.StateAwaitingOpponentReply,
		Move:      &domain.PracticeMove{Seq: 1, UserMove: "e4", Category: domain.CategoryCorrect},
	})
	observe(practice.Event{Kind: practice.EventSessionComplete, SessionID: "s-2", Reason: domain.ReasonMoveLimit})

	var ev practicedto.Event
	require.NoError(t, wsjson.Read(ctx, all, &ev))
	require.Equal(t, "move_recorded", ev.Kind)
	require.Equal(t, "e4", ev.Move.Move)
	require.True(t, ev.Move.Correct)
	require.NoError(t, wsjson.Read(ctx, all, &ev))
	require.Equal(t, "session_complete", ev.Kind)

	require.NoError(t, wsjson.Read(ctx, only, &ev))
	require.Equal(t, "s-2", ev.SessionID)
	require.Equal(t, "move_limit", ev.Reason)

	require.NoError(t, hub.Close())
	_, _, err := all.Read(ctx)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.ErrorIs(t, hub.Close(), ErrHubClosed)
	require.Equal(t, 0, hub.Subscribers())
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(WithBuffer(1))
	c := &client{send: make(chan practicedto.Event, 1)}
	hub.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(practicedto.Event{Kind: "move_recorded"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Equal(t, 9, c.dropped)
}

func TestSubscriberStopsOnServerShutdown(t *testing.T) {
	hub := NewHub()
	server := NewServer("127.0.0.1:0", hub, nil)
	addr, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan practicedto.Event, 4)
	sub := NewSubscriber("ws://"+addr.String()+EventsPath, 0, 10*time.Millisecond, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Run(ctx, func(ev practicedto.Event) { got <- ev }) }()

	require.Equal(t, practicedto.EventHello, (<-got).Kind)
	hub.Publish(practicedto.Event{Kind: "opponent_moved", SessionID: "s-9"})
	require.Equal(t, "s-9", (<-got).SessionID)

	require.NoError(t, server.Shutdown(ctx))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberGivesUpWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := NewSubscriber("ws://127.0.0.1:1/events", 1, time.Millisecond, nil)
	require.Error(t, sub.Run(ctx, nil))
}
