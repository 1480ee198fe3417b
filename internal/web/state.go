package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const stateTTL = 10 * time.Minute

type stateEntry struct {
	userID  uuid.UUID
	expires time.Time
}

// StateStore maps in-flight OAuth state strings to the user who started the
// link flow. Entries are single-use and expire after stateTTL.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{entries: make(map[string]stateEntry)}
}

// Put records a pending state for a user.
func (s *StateStore) Put(state string, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, e := range s.entries {
		if e.expires.Before(now) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = stateEntry{userID: userID, expires: now.Add(stateTTL)}
}

// Take consumes a pending state, returning the user who owns it.
func (s *StateStore) Take(state string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return uuid.Nil, false
	}
	delete(s.entries, state)
	if entry.expires.Before(time.Now()) {
		return uuid.Nil, false
	}
	return entry.userID, true
}
