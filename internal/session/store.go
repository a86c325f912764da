// Package session holds the per-user conversation state of the configuration
// dialogue. State lives in memory only and is lost on restart.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is the position of a user within the dialogue.
type Step int

const (
	AwaitingChoice Step = iota
	AwaitingAPIKey
	AwaitingModelName
	AwaitingModelNameOnly
)

func (s Step) String() string {
	switch s {
	case AwaitingChoice:
		return "awaiting_choice"
	case AwaitingAPIKey:
		return "awaiting_api_key"
	case AwaitingModelName:
		return "awaiting_model_name"
	case AwaitingModelNameOnly:
		return "awaiting_model_name_only"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// State is one user's dialogue.
type State struct {
	ID        string
	UserID    string
	Step      Step
	APIKey    string
	APIURL    string
	ModelName string
	StartedAt time.Time
}

// Store is an in-memory session store keyed by user id. Values are copied in
// and out so callers never share a State with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]State
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]State),
		now:      time.Now,
	}
}

// Create starts a new dialogue for userID at AwaitingChoice, replacing any
// existing one.
func (s *Store) Create(userID, apiURL string) State {
	st := State{
		ID:        uuid.New().String(),
		UserID:    userID,
		Step:      AwaitingChoice,
		APIURL:    apiURL,
		StartedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = st
	return st
}

// Get returns the dialogue for userID.
func (s *Store) Get(userID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[userID]
	return st, ok
}

// Update replaces the stored dialogue. The session must exist and belong to
// the same dialogue id; a session replaced by a newer start command is not
// resurrected.
func (s *Store) Update(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[st.UserID]
	if !ok {
		return fmt.Errorf("session for %s not found", st.UserID)
	}
	if cur.ID != st.ID {
		return fmt.Errorf("session %s for %s was replaced by %s", st.ID, st.UserID, cur.ID)
	}
	s.sessions[st.UserID] = st
	return nil
}

// Delete removes the dialogue for userID. It reports whether one existed.
func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[userID]
	delete(s.sessions, userID)
	return ok
}

// DeleteIf removes the dialogue for userID only if it is still the one with
// the given id.
func (s *Store) DeleteIf(userID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[userID]
	if !ok || cur.ID != id {
		return false
	}
	delete(s.sessions, userID)
	return true
}

// Len returns the number of open dialogues.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
