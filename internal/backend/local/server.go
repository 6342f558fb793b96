package local

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// Server exposes the local backend over HTTP: stored attachments for the
// URLs handed out by DiskStore, and a read-only task listing.
type Server struct {
	echo    *echo.Echo
	backend *Backend
	logger  *slog.Logger
}

// NewServer creates the HTTP server for b. rateLimit is requests per minute
// per client IP.
func NewServer(b *Backend, rateLimit int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, backend: b, logger: logger}

	e.Use(RateLimiter(rateLimit, time.Minute))
	e.GET("/healthz", s.health)
	e.GET("/objects/*", s.object)
	e.GET("/tasks", s.tasks)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("HTTP server shut down")
		return nil
	})

	return g.Wait()
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) object(c echo.Context) error {
	key := c.Param("*")
	f, meta, err := s.backend.objects.Open(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return echo.NewHTTPError(http.StatusNotFound, "object not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	if meta.CacheControl != "" {
		c.Response().Header().Set("Cache-Control", "max-age="+meta.CacheControl)
	}
	return c.Stream(http.StatusOK, contentType, f)
}

func (s *Server) tasks(c echo.Context) error {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}
	if _, err := s.backend.tokens.ValidateAccess(token); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}

	rows, err := s.backend.store.rows(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tasks")
	}
	return c.JSON(http.StatusOK, rows)
}
