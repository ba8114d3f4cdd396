// Package session binds one websocket connection to a user's mailbox.
//
// A session starts in Handshaking and waits for the init frame
//
//	{"device": {"name": "laptop", "type": "Mac"}, "type": "init"}
//
// which must identify a device owned by a user. It then becomes Active,
// subscribes to the user's mailbox and runs two duties: outbound writes every
// entry pushed to the mailbox as a JSON frame, inbound reads and logs client
// frames until the client goes away. Whichever duty ends first stops the
// other. The session then moves through Closing to Closed.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/clipsync/internal/mailbox"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// State is the lifecycle position of a session. Transitions only move forward.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// InitMessage is the first frame a client sends.
type InitMessage struct {
	Device clipboard.DeviceRef `json:"device"`
	Type   string              `json:"type"`
}

// InitType is the only accepted InitMessage.Type.
const InitType = "init"

// Session is one websocket connection.
type Session struct {
	id      string
	conn    *websocket.Conn
	manager *Manager
	logger  *slog.Logger

	state  atomic.Int32
	user   *clipboard.User
	device *clipboard.Device
}

func newSession(m *Manager, conn *websocket.Conn) *Session {
	id := uuid.New().String()

	remote := ""
	if req := conn.Request(); req != nil {
		remote = req.RemoteAddr
	}

	return &Session{
		id:      id,
		conn:    conn,
		manager: m,
		logger:  m.logger.With("session_id", id, "remote", remote),
	}
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Device returns the device bound during the handshake, or nil before it.
func (s *Session) Device() *clipboard.Device {
	if s.State() == StateHandshaking {
		return nil
	}
	return s.device
}

func (s *Session) setState(next State) {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			s.logger.Debug("session state changed",
				"event_type", "session_state",
				"from", State(cur).String(),
				"to", next.String())
			return
		}
	}
}

// Run drives the session to completion. It returns an error wrapping
// clipboard.ErrSessionFault if the handshake fails, and nil once an active
// session has been closed. The connection is always closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)
	defer s.conn.Close()

	if err := s.handshake(ctx); err != nil {
		s.setState(StateClosing)
		return err
	}

	sub := s.manager.store.Subscribe(s.user.ID, s.device.ID)
	s.manager.live.Add(1)
	s.setState(StateActive)
	s.logger.Info("session active",
		"event_type", "session_active",
		"user", s.user.Name,
		"device", s.device.String())

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		s.outbound(ctx, sub)
	}()

	var received int
	go func() {
		defer wg.Done()
		defer cancel()
		received = s.inbound(ctx)
	}()

	<-ctx.Done()
	s.setState(StateClosing)

	// Closing the connection unblocks inbound, closing the subscription ends outbound.
	s.conn.Close()
	sub.Close()
	wg.Wait()

	s.manager.live.Add(-1)
	s.logger.Info("session closed",
		"event_type", "session_closed",
		"device", s.device.String(),
		"received_frames", received)
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	if timeout := s.manager.handshakeTimeout; timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	var init InitMessage
	if err := websocket.JSON.Receive(s.conn, &init); err != nil {
		return fault("failed to read init message", err)
	}
	if init.Type != InitType {
		return fault("unexpected message type", fmt.Errorf("%w: got %q, expected %q", clipboard.ErrInvalidInput, init.Type, InitType))
	}

	device, err := s.manager.registry.ResolveDevice(ctx, init.Device.Name, init.Device.Type)
	if err != nil {
		return fault("failed to resolve device", err)
	}
	user, err := s.manager.registry.FindUserByDevice(ctx, device)
	if err != nil {
		return fault("failed to find device owner", err)
	}

	s.conn.SetReadDeadline(time.Time{})
	s.device = device
	s.user = user
	return nil
}

// outbound forwards mailbox entries to the client. The device leaves the
// pending set only for entries it is written; a failed write puts it back
// and the duty keeps going. The peer going away is detected by inbound.
func (s *Session) outbound(ctx context.Context, sub *mailbox.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-sub.Events():
			if !ok {
				return
			}
			if !sub.MarkDelivered(entry.Seq) {
				s.logger.Debug("entry already pulled",
					"event_type", "session_skip",
					"seq", entry.Seq)
				continue
			}
			if err := websocket.JSON.Send(s.conn, entry); err != nil {
				sub.RestorePending(entry.Seq)
				s.logger.Warn("failed to write entry",
					"event_type", "session_write_failed",
					"entry", entry.String(),
					"error", err)
				continue
			}
			s.logger.Debug("entry delivered",
				"event_type", "session_delivered",
				"seq", entry.Seq)
		}
	}
}

// inbound reads client frames until close, EOF or a read error and returns
// the number of frames received.
func (s *Session) inbound(ctx context.Context) int {
	count := 0
	for ctx.Err() == nil {
		var f frame
		if err := frameCodec.Receive(s.conn, &f); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("client closed connection", "event_type", "session_eof")
			} else if ctx.Err() == nil {
				s.logger.Info("read failed", "event_type", "session_read_failed", "error", err)
			}
			return count
		}
		count++

		switch f.payloadType {
		case websocket.TextFrame:
			s.logger.Info("client sent text", "event_type", "session_text", "data", string(f.data))
		case websocket.BinaryFrame:
			s.logger.Info("client sent binary", "event_type", "session_binary", "bytes", len(f.data))
		}
	}
	return count
}

func fault(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", clipboard.ErrSessionFault, msg, err)
}

// frame is a raw client frame with its payload type.
type frame struct {
	payloadType byte
	data        []byte
}

var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		f, ok := v.(*frame)
		if !ok {
			return nil, 0, websocket.ErrNotSupported
		}
		return f.data, f.payloadType, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f, ok := v.(*frame)
		if !ok {
			return websocket.ErrNotSupported
		}
		f.payloadType = payloadType
		f.data = append(f.data[:0], data...)
		return nil
	},
}
