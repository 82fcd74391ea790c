package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muurk/patchscan/internal/engine"
	"github.com/muurk/patchscan/internal/logging"
)

// shutdownTimeout bounds Shutdown when the caller's context has no deadline.
const shutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Listen   string // host:port; port 0 picks a free port
	CertFile string // Serve HTTPS when set together with KeyFile
	KeyFile  string
	// Gatherer is exposed on /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server exposes engine metrics and a live classification stream while a
// scan runs.
type Server struct {
	config     *Config
	logger     *zap.Logger
	tlsConfig  *tls.Config
	hub        *Hub
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup

	mu     sync.Mutex // guards listener and report
	report []byte
}

// New creates a new Server instance
func New(config *Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	var tlsConfig *tls.Config
	if config.CertFile != "" || config.KeyFile != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	s := &Server{
		config:    config,
		logger:    logger,
		tlsConfig: tlsConfig,
		hub:       NewHub(logger),
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
	return s, nil
}

// Hub returns the event hub fed by the engine.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the listener and starts serving in the background.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Serving metrics and events",
		zap.String("addr", ln.Addr().String()),
		zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the base URL of the bound listener.
func (s *Server) URL() string {
	scheme := "http"
	if s.tlsConfig != nil {
		scheme = "https"
	}
	return scheme + "://" + s.Addr()
}

// Start listens and blocks until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown(context.Background())
}

// SetReport publishes the final report on /report and to event clients.
func (s *Server) SetReport(report *engine.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	s.mu.Lock()
	s.report = data
	s.mu.Unlock()

	s.hub.RunFinished(report)
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.hub.Close()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("Shutdown timeout, forcing close", zap.Error(err))
		_ = s.httpServer.Close()
	}
	s.wg.Wait()
	return err
}
