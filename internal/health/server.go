package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarren/earshot/internal/observe"
)

// shutdownTimeout bounds how long Close waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// Server is the telemetry HTTP listener. It serves /metrics, /healthz and
// /readyz, with request metrics and tracing via [observe.Middleware].
type Server struct {
	srv  *http.Server
	addr string
}

// NewServer builds the telemetry server on addr with the given checkers.
// Metrics are recorded into m. Call Start to begin serving.
func NewServer(addr string, m *observe.Metrics, checkers ...Checker) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	New(checkers...).Register(mux)

	return &Server{
		srv:  &http.Server{Handler: observe.Middleware(m)(mux)},
		addr: addr,
	}
}

// Start binds the listen address and serves until Close. The returned error
// covers the bind only; serve errors are logged.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", s.addr, err)
	}
	slog.Info("telemetry listener started", "addr", s.addr)

	go func() {
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("telemetry listener error", "err", err)
		}
	}()
	return nil
}

// Close drains in-flight requests and stops the listener.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
