package eventfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const EventsPath = "/events"

// Server exposes a Hub over HTTP on its own listener.
type Server struct {
	hub    *Hub
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(EventsPath, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return &Server{
		hub:    hub,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens and serves in the background. It returns the bound address,
// which differs from the configured one when the port was 0.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("event_feed_serve_failed", zap.Error(err))
		}
	}()
	s.logger.Info("event_feed_listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

// Shutdown disconnects subscribers first; hijacked websocket connections are
// not tracked by http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.hub.Close(); err != nil && !errors.Is(err, ErrHubClosed) {
		errs = append(errs, err)
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
