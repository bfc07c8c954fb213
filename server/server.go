// Package server is the HTTP side of the pipeline: it serves the HLS playlist
// and segments from the muxer's output directory, plus a small status API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// New builds a server for opts.Root. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	log := opts.Log.Named("server")

	s := &Server{
		opts: opts,
		log:  log,
	}
	if opts.Status != nil {
		s.feed = newFeed(opts.Status, opts.StatusInterval, log)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})

	if s.feed != nil {
		api := r.Group("/api")
		{
			api.GET("/status", s.handleStatus)
			api.GET("/events", s.handleEvents)
		}
	}

	r.GET("/", s.handleIndex)
	r.GET("/:name", s.handleFile)
	r.HEAD("/:name", s.handleFile)
	r.NoRoute(notFound)
	return r
}

// cors lets browser players on other origins fetch the playlist and segments
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Range")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.engine }

// Root returns the directory being served
func (s *Server) Root() string { return s.opts.Root }

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv
	s.ln = ln

	if s.feed != nil {
		go s.feed.run()
	}
	go func() {
		s.log.Info("Segment server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("root", s.opts.Root))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Segment server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.opts.Addr
}

// Stop shuts the server down gracefully. It is idempotent and a no-op when
// the server never started.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.srv
		s.mu.Unlock()

		if s.feed != nil {
			s.feed.stop()
		}
		if srv == nil {
			return
		}

		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, ShutdownTimeout)
			defer cancel()
		}
		if err := srv.Shutdown(ctx); err != nil {
			// viewers still streaming a segment hold their connections open
			s.stopErr = errors.Join(fmt.Errorf("shutdown: %w", err), srv.Close())
		}
		s.log.Info("Segment server stopped")
	})
	return s.stopErr
}
