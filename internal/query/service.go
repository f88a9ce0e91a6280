package query

import (
	"errors"
	"sort"
	"time"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/session"
)

// ErrNotFound is returned for queries against unknown session ids.
var ErrNotFound = errors.New("session not found")

// maxListedSessions caps the session listing; dashboards only render
// the most recently active sessions.
const maxListedSessions = 50

// Service provides read-only projections over the registry and the
// event log. It never mutates session state except through the sweeper,
// which listings invoke so results reflect current staleness.
type Service struct {
	registry *session.Registry
	log      *event.Log
	sweeper  *session.Sweeper
}

func NewService(registry *session.Registry, log *event.Log, sweeper *session.Sweeper) *Service {
	return &Service{
		registry: registry,
		log:      log,
		sweeper:  sweeper,
	}
}

// SessionList is the response shape for the session listing.
type SessionList struct {
	Sessions       []session.Session `json:"sessions"`
	ActiveSessions int               `json:"activeSessions"`
	TotalSessions  int               `json:"totalSessions"`
}

// ListSessions returns the most recently active sessions, newest first.
func (s *Service) ListSessions() SessionList {
	s.sweeper.SweepNow()

	all := s.registry.All()
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastActivityAt.After(all[j].LastActivityAt)
	})
	total := len(all)
	if len(all) > maxListedSessions {
		all = all[:maxListedSessions]
	}

	active := 0
	for _, sess := range all {
		if sess.Status == session.Active {
			active++
		}
	}

	return SessionList{
		Sessions:       all,
		ActiveSessions: active,
		TotalSessions:  total,
	}
}

// GetSession returns the session with the given id.
func (s *Service) GetSession(id string) (session.Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return sess, nil
}

// SessionEvents returns up to limit of the session's most recent events
// after the sinceSeq cursor, oldest-first.
func (s *Service) SessionEvents(sessionID string, sinceSeq int64, limit int) ([]event.Event, bool) {
	return s.log.Query(sessionID, sinceSeq, limit)
}

// RecentEvents returns recent events across all sessions plus the id of
// the newest retained event, for incremental polling.
func (s *Service) RecentEvents(sinceSeq int64, limit int) (events []event.Event, lastEventID string) {
	s.sweeper.SweepNow()

	events, _ = s.log.Query("", sinceSeq, limit)
	if last, ok := s.log.Last(); ok {
		lastEventID = last.ID
	}
	return events, lastEventID
}

// Stats is the aggregate summary for dashboards.
type Stats struct {
	Today          DayStats   `json:"today"`
	Total          TotalStats `json:"total"`
	ActiveSessions int        `json:"activeSessions"`
}

type DayStats struct {
	Sessions  int `json:"sessions"`
	Messages  int `json:"messages"`
	ToolCalls int `json:"toolCalls"`
}

type TotalStats struct {
	Sessions int `json:"sessions"`
	Events   int `json:"events"`
}

// GetStats partitions sessions by UTC start-of-day of now and sums
// their counters.
func (s *Service) GetStats(now time.Time) Stats {
	dayStart := startOfDayUTC(now)

	var st Stats
	for _, sess := range s.registry.All() {
		st.Total.Sessions++
		if sess.Status == session.Active {
			st.ActiveSessions++
		}
		if !sess.StartedAt.Before(dayStart) {
			st.Today.Sessions++
			st.Today.Messages += sess.MessageCount
			st.Today.ToolCalls += sess.ToolCallCount
		}
	}
	st.Total.Events = s.log.Len()
	return st
}

// EventCapacity reports how many events the log retains. Page sizes
// beyond it can never be satisfied.
func (s *Service) EventCapacity() int {
	return s.log.Capacity()
}

// Totals reports the raw session and retained-event counts.
func (s *Service) Totals() (sessions, events int) {
	return s.registry.Len(), s.log.Len()
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
