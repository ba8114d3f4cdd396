package mailbox

import (
	"sync"

	"github.com/dyluth/clipsync/pkg/clipboard"
)

// Store maps user ids to mailboxes. Mailboxes are created on first use and
// live for the lifetime of the process.
type Store struct {
	capacity int
	buffer   int

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
}

// NewStore creates an empty store. Non-positive arguments select
// DefaultHistoryCapacity and DefaultFanoutBuffer.
func NewStore(historyCapacity, fanoutBuffer int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	if fanoutBuffer <= 0 {
		fanoutBuffer = DefaultFanoutBuffer
	}

	return &Store{
		capacity:  historyCapacity,
		buffer:    fanoutBuffer,
		mailboxes: make(map[string]*Mailbox),
	}
}

// GetOrCreate returns the mailbox for userID, creating it if needed.
// Concurrent calls for the same user always return the same mailbox.
func (s *Store) GetOrCreate(userID string) *Mailbox {
	s.mu.RLock()
	m, ok := s.mailboxes[userID]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mailboxes[userID]; ok {
		return m
	}
	m = newMailbox(userID, s.capacity, s.buffer)
	s.mailboxes[userID] = m
	return m
}

// Push appends entry to the user's mailbox on behalf of origin. roster is the
// full set of the user's device ids; every id except origin becomes pending.
func (s *Store) Push(userID string, entry clipboard.Entry, origin string, roster []string) Receipt {
	return s.GetOrCreate(userID).Push(entry, origin, roster)
}

// PullLatestFor consumes the latest entry for deviceID if it is still pending.
func (s *Store) PullLatestFor(userID, deviceID string) (clipboard.Entry, bool) {
	return s.GetOrCreate(userID).PullLatestFor(deviceID)
}

// Subscribe attaches a live subscription for deviceID to the user's mailbox.
func (s *Store) Subscribe(userID, deviceID string) *Subscription {
	return s.GetOrCreate(userID).Subscribe(deviceID)
}

// Len returns the number of mailboxes created so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.mailboxes)
}
