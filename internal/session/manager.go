package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/clipsync/internal/logging"
	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/internal/registry"
	"golang.org/x/net/websocket"
)

// DefaultHandshakeTimeout bounds the wait for the init frame.
const DefaultHandshakeTimeout = 30 * time.Second

// Manager accepts websocket connections and runs a Session for each.
type Manager struct {
	store            *mailbox.Store
	registry         registry.Registry
	logger           *slog.Logger
	handshakeTimeout time.Duration

	live atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout. Zero disables the timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// NewManager creates a session manager over the given mailbox store and registry.
func NewManager(store *mailbox.Store, reg registry.Registry, logger *slog.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:            store,
		registry:         reg,
		logger:           logging.Component(logger, "session"),
		handshakeTimeout: DefaultHandshakeTimeout,
		ctx:              ctx,
		cancel:           cancel,
		sessions:         make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Live returns the number of sessions currently in the Active state or later
// but not yet Closed.
func (m *Manager) Live() int64 {
	return m.live.Load()
}

// Handler returns the http.Handler that upgrades requests to websocket sessions.
// Origin is not checked, clients are native apps as well as browsers.
func (m *Manager) Handler() http.Handler {
	return websocket.Server{Handler: m.Serve}
}

// Serve runs a session on an upgraded connection and blocks until it ends.
func (m *Manager) Serve(conn *websocket.Conn) {
	s := newSession(m, conn)
	if !m.track(s) {
		conn.Close()
		return
	}
	defer m.untrack(s)

	s.logger.Info("client connected", "event_type", "session_connected")
	if err := s.Run(m.ctx); err != nil {
		s.logger.Warn("session rejected",
			"event_type", "session_fault",
			"error", err)
	}
}

func (m *Manager) track(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}
	m.sessions[s] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *Manager) untrack(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
	m.wg.Done()
}

// Shutdown closes every open session and waits for them to finish or for ctx
// to expire. New connections are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.cancel()
	for s := range m.sessions {
		// Sessions still in the handshake are blocked on a read.
		s.conn.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("sessions still open at shutdown"), ctx.Err())
	}
}
