// Package notify sends push notifications to devices that missed a live
// clipboard entry. The only real backend is Bark, which shows the entry on
// iOS and copies it to the local clipboard.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dyluth/clipsync/pkg/clipboard"
)

// DefaultBarkURL is the public Bark server.
const DefaultBarkURL = "https://api.day.app"

// Notifier delivers an entry to a device identified by its notification token.
type Notifier interface {
	Send(ctx context.Context, token string, from *clipboard.Device, entry clipboard.Entry) error
}

// Noop discards every notification.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(context.Context, string, *clipboard.Device, clipboard.Entry) error {
	return nil
}

// Bark is a Notifier backed by a Bark server.
type Bark struct {
	base   string
	client *http.Client
}

// NewBark creates a Bark notifier. An empty base selects DefaultBarkURL and a
// non-positive timeout selects 5s.
func NewBark(base string, timeout time.Duration) *Bark {
	if base == "" {
		base = DefaultBarkURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bark{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

// URL builds the request URL for a notification.
func (b *Bark) URL(token string, from *clipboard.Device, entry clipboard.Entry) string {
	title := fmt.Sprintf("Clipboard from:%s(%s)", from.Name, from.Type)

	q := url.Values{}
	q.Set("autoCopy", "1")
	q.Set("automaticallyCopy", "1")
	q.Set("copy", entry.Data)

	return fmt.Sprintf("%s/%s/%s/?%s", b.base, url.PathEscape(token), url.PathEscape(title), q.Encode())
}

// Send implements Notifier. Non-2xx responses are returned as errors carrying
// the response body.
func (b *Bark) Send(ctx context.Context, token string, from *clipboard.Device, entry clipboard.Entry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL(token, from, entry), nil)
	if err != nil {
		return fmt.Errorf("failed to build bark request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return clipboard.Upstream("bark", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return clipboard.Upstream("bark", fmt.Errorf("failed to send bark: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}

// Fanout notifies every pending device that carries a token. Each device is
// notified from its own goroutine and failures are only logged.
func Fanout(ctx context.Context, n Notifier, logger *slog.Logger, from *clipboard.Device, entry clipboard.Entry, pending []*clipboard.Device) int {
	sent := 0
	for _, device := range pending {
		if device.Notification == "" {
			continue
		}
		sent++

		go func(device *clipboard.Device) {
			if err := n.Send(ctx, device.Notification, from, entry); err != nil {
				logger.Warn("notification failed",
					"event_type", "notify_failed",
					"device", device.String(),
					"error", err)
				return
			}
			logger.Debug("notification sent",
				"event_type", "notify_sent",
				"device", device.String())
		}(device)
	}
	return sent
}
