// Package web serves persisted run reports over HTTP.
//
//	GET /api/reports          list of report entries, newest first per remote
//	GET /api/reports/*path    one report, byte-for-byte as persisted
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/report"
)

// ReportSource is the read side of report.Store.
type ReportSource interface {
	List() ([]report.Entry, error)
	Get(rel string) ([]byte, *ir.SyncRunReport, error)
}

// Server is the report query server.
type Server struct {
	reports ReportSource
	router  *gin.Engine
	logger  *slog.Logger
}

// NewServer creates a server over reports. A nil logger uses slog.Default().
func NewServer(reports ReportSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		reports: reports,
		router:  router,
		logger:  logger,
	}

	api := router.Group("/api")
	{
		api.GET("/reports", s.handleList)
		api.GET("/reports/*path", s.handleReport)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("report server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
