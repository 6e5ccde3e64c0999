// Package microservice provides the HTTP server shell shared by registry binaries.
package microservice

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const readHeaderTimeout = 10 * time.Second

// BaseConfig is the part of a registry binary's config that the server shell reads.
type BaseConfig struct {
	LogLevel    string `yaml:"log_level"`
	HTTPPort    string `yaml:"http_port"`
	ServiceName string `yaml:"service_name"`
}

// BaseServer owns the listener and the route table of a registry binary.
// Routes are added to Mux before Start; /healthz is always present.
type BaseServer struct {
	logger     zerolog.Logger
	listenAddr string
	mux        *http.ServeMux
	httpServer *http.Server

	mu        sync.RWMutex
	boundAddr string
}

// NewBaseServer wires the route table behind the request-id and access-log
// middleware. listenAddr may use port 0; GetHTTPPort reports the bound port.
func NewBaseServer(logger zerolog.Logger, listenAddr string) *BaseServer {
	logger = logger.With().Str("component", "HTTPServer").Logger()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", HealthzHandler)

	return &BaseServer{
		logger:     logger,
		listenAddr: listenAddr,
		mux:        mux,
		httpServer: &http.Server{
			Handler:           RequestID(AccessLog(logger, mux)),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start binds the listener and serves in the background. A bind failure is
// returned with CodeNetwork; later serve failures are only logged.
func (s *BaseServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundAddr != "" {
		return errors.Newf(errors.CodeConflict, "server already listening on %s", s.boundAddr)
	}

	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "listen on %s", s.listenAddr)
	}
	s.boundAddr = listener.Addr().String()
	s.logger.Info().Str("address", s.boundAddr).Msg("Registry HTTP server listening.")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Registry HTTP server stopped unexpectedly.")
		}
	}()
	return nil
}

// Shutdown drains in-flight requests until ctx is done.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Registry HTTP server did not drain.")
		return errors.Wrap(err, errors.CodeTimeout, "http server shutdown")
	}
	s.logger.Info().Msg("Registry HTTP server drained.")
	return nil
}

// GetHTTPPort returns ":<port>" of the bound listener, or the configured
// address before Start.
func (s *BaseServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, port, err := net.SplitHostPort(s.boundAddr); err == nil {
		return ":" + port
	}
	return s.listenAddr
}

// Mux is the route table served by the server.
func (s *BaseServer) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler answers liveness checks.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
