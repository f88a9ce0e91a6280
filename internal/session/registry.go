package session

import (
	"log"
	"sync"
	"time"

	"github.com/sessionwatch/backend/internal/event"
)

// Registry owns all session records. Every mutation — event application
// and stale sweeps — runs under the write lock, so the two can never
// interleave on the same record. Reads hand out copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Apply folds one event into session state and returns a copy of the
// resulting record. A session_start, or any event for an unknown
// session id, (re)initializes the record; a restart over an existing
// session discards its history.
func (r *Registry) Apply(ev event.Event, machineID, machineName string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[ev.SessionID]
	if ev.Type == event.TypeSessionStart || !ok {
		if ok && ev.Type == event.TypeSessionStart {
			log.Printf("session %s restarted (was %s), discarding prior state", ev.SessionID, s.Status)
		}
		name := machineName
		if name == "" {
			name = machineID
		}
		s = &Session{
			SessionID:      ev.SessionID,
			MachineID:      machineID,
			MachineName:    name,
			ProjectPath:    ev.Data.Cwd,
			ProjectName:    projectName(ev.Data.Cwd),
			Status:         Active,
			StartedAt:      ev.Timestamp,
			LastActivityAt: ev.Timestamp,
		}
		r.sessions[ev.SessionID] = s
	}

	s.LastActivityAt = ev.Timestamp
	if ev.Data.Model != "" {
		s.Model = ev.Data.Model
	}

	switch ev.Type {
	case event.TypeSessionStart:
		s.Status = Active
	case event.TypeSessionEnd:
		s.Status = Ended
	case event.TypePrompt:
		s.MessageCount++
		s.Status = Active
	case event.TypeTool:
		s.ToolCallCount++
		s.Status = Active
	case event.TypeStop:
		s.Status = Idle
	}

	return *s
}

func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// All returns copies of every session record, in no particular order.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, *s)
	}
	return result
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if s.Status == Active {
			count++
		}
	}
	return count
}

// SweepStale demotes Active sessions whose last activity is older than
// staleAfter to Idle and reports how many were demoted. Idle and Ended
// sessions are left alone.
func (r *Registry) SweepStale(now time.Time, staleAfter time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-staleAfter)
	demoted := 0
	for _, s := range r.sessions {
		if s.Status == Active && s.LastActivityAt.Before(cutoff) {
			s.Status = Idle
			demoted++
		}
	}
	return demoted
}

// Export copies out the full session map for snapshotting.
func (r *Registry) Export() map[string]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Session, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = *s
	}
	return out
}

// Restore replaces the registry contents from a snapshot.
func (r *Registry) Restore(sessions map[string]Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*Session, len(sessions))
	for id, s := range sessions {
		copy := s
		r.sessions[id] = &copy
	}
}
