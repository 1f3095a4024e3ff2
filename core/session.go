package core

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive marks a session accepting turns.
	SessionActive SessionStatus = "active"
	// SessionClosed marks a session whose stored state is read-only history.
	SessionClosed SessionStatus = "closed"
)

// Session is one end-user conversation: identity binding, lifecycle status,
// ordered turn history and the mutable per-session TurnContext. It is safe
// for concurrent access.
//
// Contract:
//   - Turn and context mutations update LastActivity
//   - Turns returns a defensive copy to avoid external mutation
//   - Clone performs deep copies of slices and the context for safe divergence
type Session struct {
	ID           string        `json:"id"`
	Identity     Identity      `json:"identity"`
	Status       SessionStatus `json:"status"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"last_activity"`
	TurnSeq      int           `json:"turn_seq"`
	Turns        []TurnRecord  `json:"turns"`
	Context      *TurnContext  `json:"context"`
	mu           sync.RWMutex
}

// NewSession creates an active session bound to the given identity.
func NewSession(id string, identity Identity) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Identity:     identity,
		Status:       SessionActive,
		Created:      now,
		LastActivity: now,
		Turns:        []TurnRecord{},
		Context:      NewTurnContext(),
	}
}

// NextSeq increments and returns the monotonic turn sequence number.
func (s *Session) NextSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnSeq++
	return s.TurnSeq
}

// AddTurn appends a turn record to the history updating LastActivity.
func (s *Session) AddTurn(rec TurnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, rec)
	s.LastActivity = time.Now().UTC()
}

// Touch updates LastActivity without recording a turn.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now().UTC()
}

// AllTurns returns a defensive copy of the full turn history.
func (s *Session) AllTurns() []TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]TurnRecord, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}

// RecentTurns returns a copy of the newest n turns, oldest first. Used to
// provide conversational context to the general-answering capability.
func (s *Session) RecentTurns(n int) []TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.Turns) {
		n = len(s.Turns)
	}
	turns := make([]TurnRecord, n)
	copy(turns, s.Turns[len(s.Turns)-n:])
	return turns
}

// Close marks the session read-only. Further turns for the identity open a
// fresh session instead of resuming this one.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = SessionClosed
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == SessionClosed
}

// Expired reports whether the session has been idle longer than ttl.
// A zero ttl disables expiry.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.LastActivity) > ttl
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:           s.ID,
		Identity:     s.Identity,
		Status:       s.Status,
		Created:      s.Created,
		LastActivity: s.LastActivity,
		TurnSeq:      s.TurnSeq,
		Turns:        make([]TurnRecord, len(s.Turns)),
		Context:      s.Context.Clone(),
	}
	copy(clone.Turns, s.Turns)
	return clone
}

// SessionStore persists sessions, their turn history and turn context.
//
// Implementations must uphold the one-active-session-per-identity invariant
// and perform Merge as a single atomic move of identity and history.
// CreateOrGet and Merge are idempotent. Get creates an Active guest session
// keyed by the given id when none exists, so loading and creating a session
// for an inbound turn is one atomic operation.
type SessionStore interface {
	CreateOrGet(identity Identity) (*Session, error)
	Get(sessionID string) (*Session, error)
	Save(sess *Session) error
	Merge(guestToken, customerID string) (*Session, error)
	Close(sessionID string) error
}
