package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/clipsync/internal/notify"
	"github.com/dyluth/clipsync/pkg/clipboard"
	"github.com/gin-gonic/gin"
)

// AddUserRequest is the body of POST /user/adduser.
type AddUserRequest struct {
	Name   string       `json:"name"`
	Device NewDeviceRef `json:"device"`
}

// NewDeviceRef is a device to register, with its notification token.
type NewDeviceRef struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Notification string `json:"notification"`
}

// AddMessageRequest is the body of POST /message/addmessage.
type AddMessageRequest struct {
	Device  clipboard.DeviceRef `json:"device"`
	Message clipboard.Entry     `json:"message"`
}

// UpdateBaseRequest is the body of POST /message/updatebase.
type UpdateBaseRequest struct {
	Device clipboard.DeviceRef `json:"device"`
}

func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", clipboard.ErrInvalidInput, err)
	}
	return nil
}

// handleAddUser finds or creates the user and registers the device under it.
func (s *Server) handleAddUser(c *gin.Context) {
	var req AddUserRequest
	if err := bind(c, &req); err != nil {
		respondBool(c, err)
		return
	}

	err := s.addUser(c.Request.Context(), req)
	s.logOutcome(err, "add user", "user", req.Name, "device", req.Device.Name)
	respondBool(c, err)
}

func (s *Server) addUser(ctx context.Context, req AddUserRequest) error {
	if _, err := (clipboard.DeviceRef{Name: req.Device.Name, Type: req.Device.Type}).Parse(); err != nil {
		return err
	}

	user, err := s.registry.FindOrCreateUser(ctx, req.Name)
	if err != nil {
		return err
	}
	return s.registry.AddDeviceToUser(ctx, user, req.Device.Name, req.Device.Type, req.Device.Notification)
}

func (s *Server) handleDevices(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		respondError(c, fmt.Errorf("%w: missing name", clipboard.ErrInvalidInput))
		return
	}

	user, err := s.registry.FindUser(c.Request.Context(), name)
	if err != nil {
		s.logOutcome(err, "list devices", "user", name)
		respondError(c, err)
		return
	}
	respond(c, user)
}

// handleAddMessage pushes an entry to the mailbox of the device's owner.
func (s *Server) handleAddMessage(c *gin.Context) {
	var req AddMessageRequest
	if err := bind(c, &req); err != nil {
		respondBool(c, err)
		return
	}

	err := s.push(c.Request.Context(), req.Device, req.Message)
	if err != nil {
		s.logOutcome(err, "push", "device", req.Device.Name)
	}
	respondBool(c, err)
}

func (s *Server) push(ctx context.Context, ref clipboard.DeviceRef, entry clipboard.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	device, err := s.registry.ResolveDevice(ctx, ref.Name, ref.Type)
	if err != nil {
		return err
	}
	user, err := s.registry.FindUserByDevice(ctx, device)
	if err != nil {
		return err
	}

	receipt := s.store.Push(user.ID, entry, device.ID, user.DeviceIDs())
	s.logger.Info("entry pushed",
		"event_type", "push",
		"user", user.Name,
		"device", device.String(),
		"seq", receipt.Entry.Seq,
		"queued", len(receipt.Queued),
		"pending", len(receipt.Pending),
		"dropped", receipt.Dropped)

	if len(receipt.Pending) > 0 {
		pending := make([]*clipboard.Device, 0, len(receipt.Pending))
		for _, d := range user.Devices {
			for _, id := range receipt.Pending {
				if d.ID == id {
					pending = append(pending, d)
				}
			}
		}
		// The request context ends with the response, notifications outlive it.
		notify.Fanout(context.WithoutCancel(ctx), s.notifier, s.logger, device, receipt.Entry, pending)
	}
	return nil
}

// handleUpdateBase returns the latest entry if the device has not seen it,
// or the empty entry.
func (s *Server) handleUpdateBase(c *gin.Context) {
	var req UpdateBaseRequest
	if err := bind(c, &req); err != nil {
		respondError(c, err)
		return
	}

	entry, err := s.pull(c.Request.Context(), req.Device)
	if err != nil {
		s.logOutcome(err, "pull", "device", req.Device.Name)
		respondError(c, err)
		return
	}
	respond(c, entry)
}

func (s *Server) pull(ctx context.Context, ref clipboard.DeviceRef) (clipboard.Entry, error) {
	device, err := s.registry.ResolveDevice(ctx, ref.Name, ref.Type)
	if err != nil {
		return clipboard.Entry{}, err
	}
	user, err := s.registry.FindUserByDevice(ctx, device)
	if err != nil {
		return clipboard.Entry{}, err
	}

	entry, ok := s.store.PullLatestFor(user.ID, device.ID)
	if !ok {
		return clipboard.EmptyEntry(), nil
	}
	return entry, nil
}

// logOutcome logs a request failure at a level matching its category.
func (s *Server) logOutcome(err error, op string, attrs ...any) {
	if err == nil {
		s.logger.Info(op+" succeeded", append([]any{"event_type", "request_ok"}, attrs...)...)
		return
	}

	attrs = append(attrs, "event_type", "request_failed", "error", err)
	switch {
	case errors.Is(err, clipboard.ErrUpstream):
		s.logger.Error(op+" failed", attrs...)
	case clipboard.IsInvalidInput(err), clipboard.IsNotFound(err):
		s.logger.Info(op+" rejected", attrs...)
	default:
		s.logger.Warn(op+" failed", attrs...)
	}
}
