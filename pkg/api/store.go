package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fireroute/pkg/reopt"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

type storedSession struct {
	session  *reopt.Session
	bbox     BoundingBox
	lastUsed time.Time
}

// Store keeps allocation sessions in memory. It holds at most max
// sessions, evicting the least recently used one when full, and drops
// sessions idle for longer than ttl on Sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*storedSession
	max      int
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(max int, ttl time.Duration) *Store {
	if max <= 0 {
		max = 1
	}
	return &Store{
		sessions: make(map[string]*storedSession),
		max:      max,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add registers a session and returns its new id.
func (s *Store) Add(sess *reopt.Session, bbox BoundingBox) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.sessions) >= s.max {
		s.evictOldest()
	}
	id := uuid.NewString()
	s.sessions[id] = &storedSession{session: sess, bbox: bbox, lastUsed: s.now()}
	sessionsOpen.Set(float64(len(s.sessions)))
	return id
}

// Get returns the session and the bounding box it was created for, and
// marks it as used.
func (s *Store) Get(id string) (*reopt.Session, BoundingBox, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, BoundingBox{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || s.expired(e) {
		return nil, BoundingBox{}, ErrSessionNotFound
	}
	e.lastUsed = s.now()
	return e.session, e.bbox, nil
}

// Remove deletes a session. It reports whether the id was known.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	sessionsOpen.Set(float64(len(s.sessions)))
	return ok
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many it dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
			n++
		}
	}
	sessionsOpen.Set(float64(len(s.sessions)))
	return n
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("Expired %d idle sessions", n)
			}
		}
	}
}

func (s *Store) expired(e *storedSession) bool {
	return s.ttl > 0 && s.now().Sub(e.lastUsed) > s.ttl
}

func (s *Store) evictOldest() {
	var oldest string
	var at time.Time
	for id, e := range s.sessions {
		if oldest == "" || e.lastUsed.Before(at) {
			oldest, at = id, e.lastUsed
		}
	}
	delete(s.sessions, oldest)
}
