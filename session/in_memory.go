package session

import (
	"sync"
	"time"

	"github.com/hupe1980/dialogmesh/core"
)

// Options configures an InMemoryStore.
type Options struct {
	// TTL closes sessions idle longer than this. 0 disables expiry.
	TTL time.Duration
	// SweepInterval runs a background goroutine closing expired sessions.
	// 0 leaves expiry purely lazy (checked on access).
	SweepInterval time.Duration
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in a process local map. It is safe for concurrent access and best suited
// for tests or ephemeral demo bots. Each returned session is cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*core.Session
	byIdentity map[string]string // identity key -> active session id
	ttl        time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &InMemoryStore{
		sessions:   make(map[string]*core.Session),
		byIdentity: make(map[string]string),
		ttl:        opts.TTL,
		done:       make(chan struct{}),
	}

	if opts.SweepInterval > 0 && opts.TTL > 0 {
		go s.sweep(opts.SweepInterval)
	}

	return s
}

// CreateOrGet returns the identity's active session (clone) or creates one.
func (s *InMemoryStore) CreateOrGet(identity core.Identity) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byIdentity[identity.Key()]; ok {
		if sess, ok := s.sessions[id]; ok && !s.expireLocked(sess) {
			return sess.Clone(), nil
		}
	}
	return s.createLocked(core.NewID(), identity).Clone(), nil
}

// Get returns an existing session (clone) or lazily creates an active guest
// session keyed by the given id, so loading-or-creating for an inbound turn
// is one atomic operation.
func (s *InMemoryStore) Get(sessionID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		s.expireLocked(sess)
		return sess.Clone(), nil
	}
	return s.createLocked(sessionID, core.GuestIdentity(sessionID)).Clone(), nil
}

// Save stores a clone of the provided session snapshot and maintains the
// identity index.
func (s *InMemoryStore) Save(sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := sess.Clone()
	s.sessions[clone.ID] = clone
	if clone.Status == core.SessionActive {
		s.byIdentity[clone.Identity.Key()] = clone.ID
	} else if s.byIdentity[clone.Identity.Key()] == clone.ID {
		delete(s.byIdentity, clone.Identity.Key())
	}
	return nil
}

// Merge moves the guest session's history into the customer's session as a
// single atomic rewrite. The guest session ceases to exist; no state is
// duplicated. Idempotent: an unknown or already-merged guest token simply
// yields the customer's session.
func (s *InMemoryStore) Merge(guestToken, customerID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity := core.AuthenticatedIdentity(customerID)

	var guest *core.Session
	if id, ok := s.byIdentity[core.GuestIdentity(guestToken).Key()]; ok {
		guest = s.sessions[id]
	}

	var target *core.Session
	if id, ok := s.byIdentity[identity.Key()]; ok {
		target = s.sessions[id]
	}

	switch {
	case guest == nil && target == nil:
		return s.createLocked(core.NewID(), identity).Clone(), nil
	case guest == nil:
		return target.Clone(), nil
	case target == nil:
		// Rewrite the guest session's identity in place: history and context
		// move with it.
		delete(s.byIdentity, guest.Identity.Key())
		guest.Identity = identity
		s.byIdentity[identity.Key()] = guest.ID
		return guest.Clone(), nil
	default:
		// Both exist: guest history moves into the authenticated session
		// after its existing turns, the authenticated TurnContext wins, the
		// guest session is removed.
		for _, rec := range guest.Turns {
			rec.Seq += target.TurnSeq
			target.Turns = append(target.Turns, rec)
		}
		target.TurnSeq += guest.TurnSeq
		delete(s.sessions, guest.ID)
		delete(s.byIdentity, guest.Identity.Key())
		return target.Clone(), nil
	}
}

// Close marks a session read-only and releases its identity slot.
func (s *InMemoryStore) Close(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.Close()
	if s.byIdentity[sess.Identity.Key()] == sessionID {
		delete(s.byIdentity, sess.Identity.Key())
	}
	return nil
}

// Stop terminates the background sweep goroutine, if any.
func (s *InMemoryStore) Stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

// createLocked allocates and indexes a new session; caller must already hold
// the write lock.
func (s *InMemoryStore) createLocked(id string, identity core.Identity) *core.Session {
	sess := core.NewSession(id, identity)
	s.sessions[id] = sess
	s.byIdentity[identity.Key()] = id
	return sess
}

// expireLocked closes the session if its TTL has elapsed and reports whether
// it is now closed. Caller must hold the write lock.
func (s *InMemoryStore) expireLocked(sess *core.Session) bool {
	if sess.IsClosed() {
		return true
	}
	if sess.Expired(s.ttl, time.Now().UTC()) {
		sess.Close()
		if s.byIdentity[sess.Identity.Key()] == sess.ID {
			delete(s.byIdentity, sess.Identity.Key())
		}
		return true
	}
	return false
}

func (s *InMemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, sess := range s.sessions {
				s.expireLocked(sess)
			}
			s.mu.Unlock()
		}
	}
}
