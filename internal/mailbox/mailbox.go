// Package mailbox holds the per-user clipboard state: a bounded history, the
// set of devices that have not yet seen the latest entry, and the live
// subscriptions that receive new entries as they are pushed.
//
// Each Mailbox has its own lock. The Store lock only guards creation of new
// mailboxes, so traffic for different users never contends.
//
// Fan-out is a broadcast with bounded slack: every subscription has a small
// buffer and a push never waits for a slow subscriber. An entry that does not
// fit in a subscriber's buffer is dropped for that subscriber only. A queued
// entry leaves its device pending until the reader marks it delivered, so an
// entry lost in a closed buffer or a failed write can still be pulled. New
// subscriptions see only entries pushed after they subscribed, there is no
// replay.
package mailbox

import (
	"sync"
	"time"

	"github.com/dyluth/clipsync/pkg/clipboard"
)

const (
	// DefaultHistoryCapacity is the number of entries kept per user.
	DefaultHistoryCapacity = 100

	// DefaultFanoutBuffer is the per-subscription slack before live entries are dropped.
	DefaultFanoutBuffer = 10
)

// Receipt describes the outcome of a push.
type Receipt struct {
	Entry     clipboard.Entry // the stored entry with Seq and Date filled in
	Queued    []string        // pending device ids whose live subscription accepted the entry
	Pending   []string        // pending device ids with no live subscription holding the entry
	Dropped   int             // subscriptions whose buffer was full
}

// Mailbox is the clipboard state of one user. All methods are safe for
// concurrent use and mutually exclusive with each other.
type Mailbox struct {
	userID   string
	capacity int
	buffer   int

	mu          sync.Mutex
	history     []clipboard.Entry
	pending     map[string]struct{}
	subscribers map[*Subscription]struct{}
	seq         uint64
}

func newMailbox(userID string, capacity, buffer int) *Mailbox {
	return &Mailbox{
		userID:      userID,
		capacity:    capacity,
		buffer:      buffer,
		history:     make([]clipboard.Entry, 0, capacity),
		pending:     make(map[string]struct{}),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Push appends entry to the history and publishes it to every live
// subscription. The order of operations is fixed: evict the oldest entry if
// the history is full, append, reset the pending set to roster minus origin,
// then publish. Devices stay pending until a subscription reader calls
// MarkDelivered or the device pulls. Push never blocks on a subscriber.
func (m *Mailbox) Push(entry clipboard.Entry, origin string, roster []string) Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) >= m.capacity {
		n := copy(m.history, m.history[len(m.history)-m.capacity+1:])
		m.history = m.history[:n]
	}

	m.seq++
	entry.Seq = m.seq
	if entry.Date == 0 {
		entry.Date = time.Now().UnixMilli()
	}
	m.history = append(m.history, entry)

	m.pending = make(map[string]struct{}, len(roster))
	for _, id := range roster {
		if id != origin {
			m.pending[id] = struct{}{}
		}
	}

	receipt := Receipt{Entry: entry}
	queued := make(map[string]struct{})
	for sub := range m.subscribers {
		select {
		case sub.events <- entry:
			if _, ok := m.pending[sub.deviceID]; ok {
				if _, dup := queued[sub.deviceID]; !dup {
					queued[sub.deviceID] = struct{}{}
					receipt.Queued = append(receipt.Queued, sub.deviceID)
				}
			}
		default:
			receipt.Dropped++
		}
	}

	for id := range m.pending {
		if _, ok := queued[id]; !ok {
			receipt.Pending = append(receipt.Pending, id)
		}
	}

	return receipt
}

// PullLatestFor returns the latest entry if deviceID has not observed it yet,
// and marks it observed. Older entries are never returned. Returns false when
// the history is empty or the device is not pending.
func (m *Mailbox) PullLatestFor(deviceID string) (clipboard.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return clipboard.Entry{}, false
	}
	if _, ok := m.pending[deviceID]; !ok {
		return clipboard.Entry{}, false
	}

	delete(m.pending, deviceID)
	return m.history[len(m.history)-1], true
}

// MarkDelivered records that deviceID is about to observe entry seq over a
// live subscription and reports whether the entry should be written. It
// returns false only when seq is the latest entry and the device already
// observed it through pull. Entries superseded by a newer push are no longer
// pullable, so they are always written to keep live order.
func (m *Mailbox) MarkDelivered(deviceID string, seq uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.seq {
		return true
	}
	if _, ok := m.pending[deviceID]; !ok {
		return false
	}
	delete(m.pending, deviceID)
	return true
}

// RestorePending undoes MarkDelivered after a failed write. It has no effect
// once a newer entry was pushed.
func (m *Mailbox) RestorePending(deviceID string, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq == m.seq && len(m.history) > 0 {
		m.pending[deviceID] = struct{}{}
	}
}

// Subscribe attaches a live subscription for deviceID. The caller must Close it.
func (m *Mailbox) Subscribe(deviceID string) *Subscription {
	sub := &Subscription{
		mailbox:  m,
		deviceID: deviceID,
		events:   make(chan clipboard.Entry, m.buffer),
	}

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	return sub
}

func (m *Mailbox) unsubscribe(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscribers[sub]; !ok {
		return
	}
	delete(m.subscribers, sub)
	close(sub.events)
}

// History returns a copy of the stored entries, oldest first.
func (m *Mailbox) History() []clipboard.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]clipboard.Entry, len(m.history))
	copy(out, m.history)
	return out
}

// Latest returns the most recent entry, if any.
func (m *Mailbox) Latest() (clipboard.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return clipboard.Entry{}, false
	}
	return m.history[len(m.history)-1], true
}

// IsPending reports whether deviceID has not yet observed the latest entry.
func (m *Mailbox) IsPending(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pending[deviceID]
	return ok
}

// SubscriberCount returns the number of live subscriptions.
func (m *Mailbox) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.subscribers)
}

// Subscription is a live attachment of one device to a mailbox.
// Caller must call Close() when done to stop delivery.
type Subscription struct {
	mailbox  *Mailbox
	deviceID string
	events   chan clipboard.Entry
	once     sync.Once
}

// Events returns the channel of pushed entries.
// The channel is closed when the subscription is closed.
func (s *Subscription) Events() <-chan clipboard.Entry {
	return s.events
}

// DeviceID returns the device this subscription delivers to.
func (s *Subscription) DeviceID() string {
	return s.deviceID
}

// MarkDelivered marks the subscription's device as observing entry seq.
// See Mailbox.MarkDelivered.
func (s *Subscription) MarkDelivered(seq uint64) bool {
	return s.mailbox.MarkDelivered(s.deviceID, seq)
}

// RestorePending puts the device back in the pending set for entry seq.
func (s *Subscription) RestorePending(seq uint64) {
	s.mailbox.RestorePending(s.deviceID, seq)
}

// Close detaches the subscription from its mailbox. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(func() { s.mailbox.unsubscribe(s) })
	return nil
}
