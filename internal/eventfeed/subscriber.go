package eventfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/cheese-repertoire/pkg/practicedto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const dialTimeout = 10 * time.Second

// Subscriber reads a feed and reconnects after transport failures.
type Subscriber struct {
	url                  string
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	logger               *zap.Logger
}

func NewSubscriber(url string, maxReconnectAttempts int, reconnectDelay time.Duration, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	return &Subscriber{
		url:                  url,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		logger:               logger,
	}
}

// Run delivers frames to handle until ctx ends or reconnects are exhausted.
// A normal close from the server ends Run without error.
func (s *Subscriber) Run(ctx context.Context, handle func(practicedto.Event)) error {
	attempts := 0
	for {
		err := s.session(ctx, handle, func() { attempts = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil
		}
		attempts++
		if attempts > s.maxReconnectAttempts {
			return fmt.Errorf("event feed %s: %w", s.url, err)
		}
		delay := s.reconnectDelay * time.Duration(attempts)
		s.logger.Warn("event_feed_reconnect", zap.Int("attempt", attempts), zap.Duration("delay", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Subscriber) session(ctx context.Context, handle func(practicedto.Event), connected func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	connected()

	for {
		var ev practicedto.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return err
		}
		if handle != nil {
			handle(ev)
		}
	}
}
