// Package plugin holds the per-session state a forensic plugin host keeps
// while a plugin is loaded: the outstanding handles it has given out and the
// processes those handles touch. Everything is memory-resident and torn down
// when the host unloads the plugin.
package plugin

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vmmfs/ob"
)

var ErrClosed = errors.New("plugin: session closed")

const handleWeight = 1 << 8

// HandleState is the payload behind one outstanding handle.
type HandleState struct {
	Path   string
	PID    uint32
	Opened time.Time
}

// Session tracks the outstanding handles of one plugin load. Containers are
// explicit per-session instances, not process globals, so unloading one
// plugin cannot disturb another.
type Session struct {
	id      string
	nextID  atomic.Uint64
	handles *ob.Map[HandleState]
	pids    *ob.Set

	mu     sync.Mutex
	closed bool
}

// Open starts a session at host-session start.
func Open() *Session {
	s := &Session{
		id:      uuid.New().String(),
		handles: ob.NewMap[HandleState](64),
		pids:    ob.NewSet(64),
	}
	log.Println("plugin: session", s.id, "opened")
	return s
}

func (s *Session) ID() string {
	return s.id
}

// OpenHandle registers a new handle for path/pid and returns its id.
func (s *Session) OpenHandle(path string, pid uint32) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.mu.Unlock()
	o, err := ob.New(ob.TagHandle, handleWeight, HandleState{Path: path, PID: pid, Opened: time.Now()}, nil)
	if err != nil {
		return 0, err
	}
	h := s.nextID.Add(1)
	_, err = s.handles.Insert(h, o)
	o.Release()
	if err != nil {
		return 0, err
	}
	s.pids.Insert(uint64(pid))
	return h, nil
}

// LookupHandle returns a borrowed view of the handle state.
func (s *Session) LookupHandle(h uint64) (*HandleState, bool) {
	return s.handles.Lookup(h)
}

// CloseHandle releases the handle, reporting whether it was outstanding.
func (s *Session) CloseHandle(h uint64) bool {
	return s.handles.Remove(h)
}

// Handles returns the number of outstanding handles.
func (s *Session) Handles() int {
	return s.handles.Len()
}

// Pids returns the pids touched over the session's lifetime, in first-touch
// order.
func (s *Session) Pids() []uint32 {
	out := make([]uint32, 0, s.pids.Len())
	s.pids.Range(func(key uint64) bool {
		out = append(out, uint32(key))
		return true
	})
	return out
}

// Close releases every outstanding handle. Idempotent; the session rejects
// new handles afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	n := s.handles.Len()
	s.handles.Clear()
	s.pids.Clear()
	log.Println("plugin: session", s.id, "closed,", n, "handles released")
}
