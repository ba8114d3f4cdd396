// Package client is a Go client for the clipsync HTTP surface and its live
// /ws channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/clipsync/pkg/clipboard"
	"golang.org/x/net/websocket"
)

// APIError is a failure reported by the server in the response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (code %d): %s", e.Code, e.Msg)
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// NewDevice is a device to register with AddUser.
type NewDevice struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Notification string `json:"notification"`
}

// Client talks to one clipsync server.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for the server at baseURL, e.g. "http://localhost:22010".
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return zero, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return zero, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Code != http.StatusOK {
		return zero, &APIError{Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

// AddUser creates the user if needed and registers device under it.
func (c *Client) AddUser(ctx context.Context, name string, device NewDevice) error {
	_, err := do[bool](ctx, c, http.MethodPost, "/user/adduser", map[string]any{
		"name":   name,
		"device": device,
	})
	return err
}

// Devices returns the user called name with its devices.
func (c *Client) Devices(ctx context.Context, name string) (*clipboard.User, error) {
	return do[*clipboard.User](ctx, c, http.MethodGet, "/user/devices?name="+url.QueryEscape(name), nil)
}

// Push sends entry on behalf of device.
func (c *Client) Push(ctx context.Context, device clipboard.DeviceRef, entry clipboard.Entry) error {
	_, err := do[bool](ctx, c, http.MethodPost, "/message/addmessage", map[string]any{
		"device":  device,
		"message": entry,
	})
	return err
}

// Pull returns the latest entry if device has not seen it, or the empty entry.
func (c *Client) Pull(ctx context.Context, device clipboard.DeviceRef) (clipboard.Entry, error) {
	return do[clipboard.Entry](ctx, c, http.MethodPost, "/message/updatebase", map[string]any{
		"device": device,
	})
}

// Watch is a live connection receiving entries pushed by the user's other devices.
// Caller must call Close() when done.
type Watch struct {
	events <-chan clipboard.Entry
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of received entries.
// The channel is closed when the watch ends.
func (w *Watch) Events() <-chan clipboard.Entry {
	return w.events
}

// Errors returns the channel carrying the error that ended the watch, if any.
func (w *Watch) Errors() <-chan error {
	return w.errors
}

// Close ends the watch. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (w *Watch) Close() error {
	w.once.Do(w.cancel)
	return nil
}

// Watch opens /ws as device. Entries are delivered on a buffered channel
// (size 10); the server drops entries for a watcher that falls behind.
// Context cancellation also ends the watch.
func (c *Client) Watch(ctx context.Context, device clipboard.DeviceRef) (*Watch, error) {
	wsURL := *c.base
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws"
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}

	config, err := websocket.NewConfig(wsURL.String(), c.base.String())
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL.String(), err)
	}

	hello := map[string]any{"device": device, "type": "init"}
	if err := websocket.JSON.Send(conn, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send init message: %w", err)
	}

	eventsChan := make(chan clipboard.Entry, 10)
	errorsChan := make(chan error, 1)
	watchCtx, cancelFunc := context.WithCancel(ctx)

	// Receive blocks until the connection is closed.
	go func() {
		<-watchCtx.Done()
		conn.Close()
	}()

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer cancelFunc()

		for {
			var entry clipboard.Entry
			if err := websocket.JSON.Receive(conn, &entry); err != nil {
				if watchCtx.Err() == nil && !errors.Is(err, io.EOF) {
					errorsChan <- fmt.Errorf("watch ended: %w", err)
				} else if watchCtx.Err() == nil {
					errorsChan <- errors.New("server closed the connection")
				}
				return
			}

			select {
			case eventsChan <- entry:
			case <-watchCtx.Done():
				return
			}
		}
	}()

	return &Watch{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
