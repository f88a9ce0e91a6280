package ingest

import (
	"sync"
	"time"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/session"
)

// HookPayload is the wire form of an inbound hook event. The producer's
// timestamp is accepted for reference but the server clock is
// authoritative for ordering and staleness.
type HookPayload struct {
	EventType   string        `json:"event_type"`
	MachineID   string        `json:"machine_id"`
	MachineName string        `json:"machine_name,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
	Data        event.Payload `json:"data"`
}

// ValidationError reports a malformed ingestion payload. Validation
// runs before the sequence counter is touched, so a rejected payload
// leaves no trace.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing required field: " + e.Field
}

// Scheduler schedules a durable snapshot of current state.
type Scheduler interface {
	Schedule()
}

// Notifier receives each ingested event with the updated session.
type Notifier interface {
	Publish(ev event.Event, sess session.Session)
}

// Ingestor validates payloads, assigns sequence numbers, and drives the
// log, the registry, and the snapshot scheduler. The mutex makes the
// sequence assignment and both state updates one unit with respect to
// other ingestions.
type Ingestor struct {
	mu       sync.Mutex
	seq      int64
	log      *event.Log
	registry *session.Registry
	sched    Scheduler
	notifier Notifier
	now      func() time.Time
}

func New(log *event.Log, registry *session.Registry, sched Scheduler, notifier Notifier) *Ingestor {
	return &Ingestor{
		log:      log,
		registry: registry,
		sched:    sched,
		notifier: notifier,
		now:      time.Now,
	}
}

// RestoreSeq resumes the sequence counter from a snapshot. Call before
// the first Ingest.
func (in *Ingestor) RestoreSeq(seq int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if seq > in.seq {
		in.seq = seq
	}
}

// Seq returns the last issued sequence number.
func (in *Ingestor) Seq() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.seq
}

// Ingest validates the payload, appends the event, applies it to the
// session registry, and schedules a snapshot. The returned event
// carries the assigned id.
func (in *Ingestor) Ingest(p HookPayload) (event.Event, error) {
	if p.EventType == "" {
		return event.Event{}, &ValidationError{Field: "event_type"}
	}
	if p.Data.SessionID == "" {
		return event.Event{}, &ValidationError{Field: "data.session_id"}
	}

	in.mu.Lock()
	in.seq++
	ev := event.Event{
		ID:        event.FormatID(in.seq),
		Seq:       in.seq,
		SessionID: p.Data.SessionID,
		Type:      p.EventType,
		Timestamp: in.now().UTC(),
		Data:      p.Data,
	}
	in.log.Append(ev)
	sess := in.registry.Apply(ev, p.MachineID, p.MachineName)
	in.mu.Unlock()

	in.sched.Schedule()
	if in.notifier != nil {
		in.notifier.Publish(ev, sess)
	}

	return ev, nil
}
