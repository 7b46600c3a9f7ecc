// Package server exposes a media archive over HTTP. It is the Go side of
// the archive daemon: objects are uploaded, downloaded, deployed and
// inspected through a small JSON API, with metadata kept in SQLite.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/config"
	"mediarchive/internal/store"
)

// Server is the archive daemon.
type Server struct {
	cfg     *config.Config
	archive *archive.Archive
	meta    *store.Store
	logger  *zap.Logger

	httpServer *http.Server
}

// New assembles a daemon over an open archive and metadata store.
func New(cfg *config.Config, a *archive.Archive, meta *store.Store, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		archive: a,
		meta:    meta,
		logger:  logger,
	}
}

// Handler returns the daemon's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("POST /api/files", s.handleUpload)
	mux.HandleFunc("GET /api/files/{hash}", s.handleDownload)
	mux.HandleFunc("DELETE /api/files/{hash}", s.handleDelete)
	mux.HandleFunc("POST /api/deploy", s.handleDeploy)
	mux.HandleFunc("GET /api/deployments", s.handleListDeployments)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	return s.logRequests(mux)
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("daemon listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("archive", s.archive.Path()),
		zap.Bool("bare", s.archive.Bare()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout, err := s.cfg.ShutdownTimeout()
	if err != nil {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down daemon")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// logRequests wraps a handler with zap request logging.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
