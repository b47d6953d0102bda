package session

import (
	"sync"
)

// Registry is the authoritative in-memory map of session identifier to
// session. Admission control and concurrency accounting both read from it;
// nothing else holds session references beyond the owning connection.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves a session by identifier.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// ActiveForPair returns the single active session for an
// (examID, studentID) pair, or nil. At most one such session exists; the
// manager finalizes any prior one before admitting a successor.
func (r *Registry) ActiveForPair(examID, studentID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.ExamID == examID && s.StudentID == studentID && s.IsActive() {
			return s, true
		}
	}
	return nil, false
}

// CountActiveForExam counts active sessions for an exam. Derived by
// scanning on every call; an incrementally maintained counter would drift
// under interleaved admit/finalize sequences.
func (r *Registry) CountActiveForExam(examID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.sessions {
		if s.ExamID == examID && s.IsActive() {
			count++
		}
	}
	return count
}

// Insert adds a session to the registry.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove deletes a session by identifier and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions, terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain removes and returns every session; used only at process teardown.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
