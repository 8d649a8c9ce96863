package api

import (
	"context"
	"testing"
	"time"

	"fireroute/pkg/reopt"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeStore(max int, ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewStore(max, ttl)
	s.now = clock.now
	return s, clock
}

func TestStore_AddGetRemove(t *testing.T) {
	s, _ := newFakeStore(4, time.Minute)
	sess := &reopt.Session{}
	bbox := BoundingBox{1, 0, 1, 0}

	id := s.Add(sess, bbox)
	got, gotBBox, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess || gotBBox != bbox {
		t.Errorf("Get = %p %v, want %p %v", got, gotBBox, sess, bbox)
	}
	if !s.Remove(id) {
		t.Error("Remove = false, want true")
	}
	if s.Remove(id) {
		t.Error("second Remove = true, want false")
	}
	if _, _, err := s.Get(id); err != ErrSessionNotFound {
		t.Errorf("Get after Remove err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, clock := newFakeStore(2, 0)
	a := s.Add(&reopt.Session{}, BoundingBox{})
	clock.advance(time.Second)
	b := s.Add(&reopt.Session{}, BoundingBox{})
	clock.advance(time.Second)

	// Touch a so b becomes the oldest.
	if _, _, err := s.Get(a); err != nil {
		t.Fatalf("Get(a): %v", err)
	}
	clock.advance(time.Second)
	c := s.Add(&reopt.Session{}, BoundingBox{})

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if _, _, err := s.Get(b); err == nil {
		t.Error("b survived eviction")
	}
	for _, id := range []string{a, c} {
		if _, _, err := s.Get(id); err != nil {
			t.Errorf("Get(%s): %v", id, err)
		}
	}
}

func TestStore_IdleExpiry(t *testing.T) {
	s, clock := newFakeStore(4, time.Minute)
	old := s.Add(&reopt.Session{}, BoundingBox{})
	clock.advance(45 * time.Second)
	fresh := s.Add(&reopt.Session{}, BoundingBox{})
	clock.advance(30 * time.Second)

	if _, _, err := s.Get(old); err != ErrSessionNotFound {
		t.Errorf("expired Get err = %v, want ErrSessionNotFound", err)
	}
	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if _, _, err := s.Get(fresh); err != nil {
		t.Errorf("Get(fresh): %v", err)
	}
}

func TestStore_RejectsMalformedID(t *testing.T) {
	s, _ := newFakeStore(4, 0)
	if _, _, err := s.Get("../../etc"); err != ErrSessionNotFound {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	s := NewStore(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
