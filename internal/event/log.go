package event

import (
	"sync"
)

// DefaultCapacity bounds the number of retained events. Older events are
// dropped for good; the log is a recent-history window, not an archive.
const DefaultCapacity = 1000

// Log is a bounded FIFO of events ordered by sequence number ascending.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity}
}

func (l *Log) Capacity() int {
	return l.capacity
}

// Append adds an event, evicting the oldest entries on overflow.
// Callers must append in sequence order.
func (l *Log) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if len(l.events) > l.capacity {
		overflow := len(l.events) - l.capacity
		l.events = append(l.events[:0], l.events[overflow:]...)
	}
}

// Query returns up to limit of the most recent events matching the
// filters, oldest-first. sessionID empty matches all sessions; sinceSeq
// is an exclusive lower bound. hasMore reports whether matching events
// older than the returned window remain in the log.
func (l *Log) Query(sessionID string, sinceSeq int64, limit int) ([]Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []Event
	for _, ev := range l.events {
		if sessionID != "" && ev.SessionID != sessionID {
			continue
		}
		if ev.Seq <= sinceSeq {
			continue
		}
		matched = append(matched, ev)
	}

	if limit > 0 && len(matched) > limit {
		return matched[len(matched)-limit:], true
	}
	return matched, false
}

// Last returns the newest event, if any.
func (l *Log) Last() (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Export copies out the retained events, oldest-first, for snapshotting.
func (l *Log) Export() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Restore replaces the log contents from a snapshot. Events beyond
// capacity are dropped oldest-first.
func (l *Log) Restore(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	l.events = make([]Event, len(events))
	copy(l.events, events)
}
