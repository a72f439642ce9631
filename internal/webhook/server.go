package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/reviewd/internal/observability"
)

// Server hosts the webhook handler plus the operational endpoints.
type Server struct {
	handler *Handler
	logger  *observability.Logger
	server  *http.Server
}

// NewServer builds the HTTP server around a handler. The metrics
// endpoint serves the given gatherer; pass prometheus.DefaultGatherer in
// production.
func NewServer(addr string, handler *Handler, gatherer prometheus.Gatherer, logger *observability.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/webhook", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return &Server{
		handler: handler,
		logger:  logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute, // analysis runs answer inline
		},
	}
}

// Start listens and serves until Shutdown. It returns once the listener
// is bound; serve errors are reported through the returned channel.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	s.logger.Info(ctx, "webhook server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
