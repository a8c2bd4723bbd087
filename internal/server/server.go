package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps the gin engine with graceful lifecycle handling. The
// archive db is optional: a nil db means the record archive is disabled
// and the health check skips connectivity verification.
type Server struct {
	Engine *gin.Engine
	Addr   string
	db     *sql.DB
}

func New(addr string, db *sql.DB, mode string, maxBodySizeMB int) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	if maxBodySizeMB > 0 {
		r.Use(limitBody(int64(maxBodySizeMB) * 1024 * 1024))
	}

	s := &Server{
		Engine: r,
		Addr:   addr,
		db:     db,
	}

	r.GET("/health", s.healthHandler)

	return s
}

// limitBody caps request bodies so a runaway payload cannot exhaust
// memory. Handlers see a read error once the cap is exceeded.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	archive := "disabled"
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("[Server] Health check failed: archive database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "archive database unreachable",
			})
			return
		}
		archive = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"archive": archive,
	})
}

const shutdownTimeout = 5 * time.Second

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("[Server] Listening", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] Forced shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
