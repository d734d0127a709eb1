package training

import (
	"fmt"
	"sync"

	"github.com/absmach/fedmob/pkg/monitor"
)

// Scope owns the intermediate tensors of one round. Every tensor tracked
// through it is released exactly once, either explicitly or on Close.
type Scope struct {
	tracker *monitor.Tracker
	name    string

	mu     sync.Mutex
	seq    int
	live   map[string]struct{}
	closed bool
}

// NewScope returns a scope registering into tracker. A nil tracker keeps
// bookkeeping local to the scope.
func NewScope(tracker *monitor.Tracker, name string) *Scope {
	return &Scope{
		tracker: tracker,
		name:    name,
		live:    make(map[string]struct{}),
	}
}

// Track registers an intermediate tensor of the given size and returns its
// id. Tracking on a closed scope returns an empty id.
func (s *Scope) Track(bytes int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ""
	}

	s.seq++
	id := fmt.Sprintf("%s/%d", s.name, s.seq)
	s.live[id] = struct{}{}
	if s.tracker != nil {
		s.tracker.Track(id, bytes, false)
	}

	return id
}

// Release frees one tensor. It reports false if the id is not live, which
// includes tensors already freed by the monitor's cleanup.
func (s *Scope) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[id]; !ok {
		return false
	}
	delete(s.live, id)
	if s.tracker != nil {
		return s.tracker.Release(id)
	}

	return true
}

func (s *Scope) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.live)
}

// Close releases every live tensor and returns how many were released.
// Later calls are no-ops.
func (s *Scope) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	s.closed = true

	n := len(s.live)
	for id := range s.live {
		if s.tracker != nil {
			s.tracker.Release(id)
		}
		delete(s.live, id)
	}

	return n
}
