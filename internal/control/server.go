package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/loader"
)

// Server serves a Controller over HTTP.
type Server struct {
	ctrl   Controller
	log    *zap.Logger
	router *gin.Engine
}

// NewServer builds the router for ctrl.
func NewServer(ctrl Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{ctrl: ctrl, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests)

	v1 := router.Group("/v1")
	v1.GET("/health", s.health)
	v1.GET("/domains", s.list)
	v1.POST("/domains", s.define)
	v1.POST("/transient", s.create)

	d := v1.Group("/domains/:ref")
	d.GET("", s.get)
	d.DELETE("", s.undefine)
	d.GET("/info", s.info)
	d.GET("/definition", s.definition)
	d.POST("/start", s.start)
	d.POST("/shutdown", s.shutdown)
	d.POST("/reboot", s.reboot)
	d.POST("/destroy", s.destroy)
	d.POST("/resume", s.resume)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the unix socket at path until ctx is cancelled. A stale
// socket left by a previous process is replaced; a live one is an error.
func (s *Server) Serve(ctx context.Context, path string) error {
	l, err := listen(path)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(path) }()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving control socket", zap.String("socket", path))
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("another corral is already serving on %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return l, nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("control request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) fail(c *gin.Context, err error) {
	kind, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("control request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Kind: kind})
}

// resolve maps the :ref path parameter to a domain identity.
func (s *Server) resolve(c *gin.Context) (uuid.UUID, bool) {
	id, err := s.ctrl.Resolve(c.Param("ref"))
	if err != nil {
		s.fail(c, err)
		return uuid.Nil, false
	}
	return id, true
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: query parameter %s: %w", ErrBadRequest, key, err)
	}
	return b, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) list(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.List())
}

func (s *Server) define(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	def, err := loader.LoadFromYAML(body)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	d, err := s.ctrl.Define(c.Request.Context(), def)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) create(c *gin.Context) {
	paused, err := queryBool(c, "paused")
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	def, err := loader.LoadFromYAML(body)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}
	d, err := s.ctrl.CreateTransient(c.Request.Context(), def, paused)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) get(c *gin.Context) {
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	d, err := s.ctrl.LookupByUUID(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) info(c *gin.Context) {
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	info, err := s.ctrl.GetInfo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) definition(c *gin.Context) {
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	data, err := s.ctrl.DumpDefinition(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml", data)
}

func (s *Server) start(c *gin.Context) {
	paused, err := queryBool(c, "paused")
	if err != nil {
		s.fail(c, err)
		return
	}
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	d, err := s.ctrl.Start(c.Request.Context(), id, paused)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) resume(c *gin.Context) {
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	d, err := s.ctrl.Resume(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) shutdown(c *gin.Context) {
	s.act(c, s.ctrl.Shutdown)
}

func (s *Server) reboot(c *gin.Context) {
	s.act(c, s.ctrl.Reboot)
}

func (s *Server) undefine(c *gin.Context) {
	s.act(c, s.ctrl.Undefine)
}

func (s *Server) destroy(c *gin.Context) {
	force, err := queryBool(c, "force")
	if err != nil {
		s.fail(c, err)
		return
	}
	s.act(c, func(ctx context.Context, id uuid.UUID) error {
		return s.ctrl.Destroy(ctx, id, force)
	})
}

// act runs an operation that returns no domain.
func (s *Server) act(c *gin.Context, op func(context.Context, uuid.UUID) error) {
	id, ok := s.resolve(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
