// Package server exposes the clipboard service over HTTP: the user and
// message endpoints, the /ws live channel and the /healthz probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/clipsync/internal/logging"
	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/internal/notify"
	"github.com/dyluth/clipsync/internal/registry"
	"github.com/dyluth/clipsync/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Greeting is the body served on GET /.
const Greeting = "Hello, World!"

// Server wires the registry, mailbox store, session manager and notifier
// behind a gin router.
type Server struct {
	registry registry.Registry
	store    *mailbox.Store
	sessions *session.Manager
	notifier notify.Notifier
	logger   *slog.Logger

	engine *gin.Engine
	http   *http.Server
	addr   net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier enables notifications to devices that missed a push.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithSessions replaces the default session manager.
func WithSessions(m *session.Manager) Option {
	return func(s *Server) { s.sessions = m }
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// New creates a server. Notifications are disabled unless WithNotifier is given.
func New(reg registry.Registry, store *mailbox.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		store:    store,
		notifier: notify.Noop{},
		logger:   logging.Component(logger, "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(store, reg, logger)
	}

	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, Greeting) })
	r.GET("/healthz", s.handleHealth)
	r.GET("/ws", gin.WrapH(s.sessions.Handler()))

	user := r.Group("/user")
	user.POST("/adduser", s.handleAddUser)
	user.GET("/devices", s.handleDevices)

	message := r.Group("/message")
	message.POST("/addmessage", s.handleAddMessage)
	message.POST("/updatebase", s.handleUpdateBase)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request handled",
			"event_type", "http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Sessions returns the websocket session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Start listens on addr and serves in the background. The listener is bound
// before Start returns so address errors surface immediately.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr()

	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "event_type", "server_failed", "error", err)
		}
	}()

	s.logger.Info("listening", "event_type", "server_started", "addr", s.addr.String())
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops accepting requests, closes live sessions and waits for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// Hijacked websocket connections are not tracked by http.Server.
	if err := s.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
