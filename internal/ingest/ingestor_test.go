package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/session"
)

type countingScheduler struct {
	calls int
}

func (c *countingScheduler) Schedule() { c.calls++ }

type recordingNotifier struct {
	events []event.Event
}

func (n *recordingNotifier) Publish(ev event.Event, _ session.Session) {
	n.events = append(n.events, ev)
}

func newTestIngestor() (*Ingestor, *event.Log, *session.Registry, *countingScheduler) {
	l := event.NewLog(event.DefaultCapacity)
	r := session.NewRegistry()
	sched := &countingScheduler{}
	in := New(l, r, sched, nil)
	return in, l, r, sched
}

func payload(eventType, sessionID string) HookPayload {
	return HookPayload{
		EventType: eventType,
		MachineID: "m1",
		Data:      event.Payload{SessionID: sessionID},
	}
}

func TestIngestValidation(t *testing.T) {
	in, l, r, sched := newTestIngestor()

	cases := []struct {
		name string
		p    HookPayload
		want string
	}{
		{"missing event_type", payload("", "s1"), "event_type"},
		{"missing session_id", payload("prompt", ""), "data.session_id"},
	}
	for _, c := range cases {
		_, err := in.Ingest(c.p)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: got %v, want ValidationError", c.name, err)
		}
		if verr.Field != c.want {
			t.Errorf("%s: field = %q, want %q", c.name, verr.Field, c.want)
		}
	}

	// Rejected payloads leave no trace anywhere.
	if l.Len() != 0 || r.Len() != 0 || sched.calls != 0 || in.Seq() != 0 {
		t.Errorf("rejected payloads mutated state: log=%d sessions=%d schedules=%d seq=%d",
			l.Len(), r.Len(), sched.calls, in.Seq())
	}
}

func TestIngestAssignsIncreasingIDs(t *testing.T) {
	in, _, _, _ := newTestIngestor()

	var prev int64
	for i := 0; i < 20; i++ {
		ev, err := in.Ingest(payload("prompt", "s1"))
		if err != nil {
			t.Fatal(err)
		}
		if ev.Seq != prev+1 {
			t.Fatalf("seq jumped from %d to %d", prev, ev.Seq)
		}
		if ev.ID != event.FormatID(ev.Seq) {
			t.Errorf("id %q does not encode seq %d", ev.ID, ev.Seq)
		}
		prev = ev.Seq
	}
}

func TestIngestSideEffects(t *testing.T) {
	in, l, r, sched := newTestIngestor()

	ev, err := in.Ingest(HookPayload{
		EventType:   event.TypeSessionStart,
		MachineID:   "m1",
		MachineName: "laptop",
		Data:        event.Payload{SessionID: "s1", Cwd: "/home/x/proj"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if ev.ID != "evt_1" {
		t.Errorf("eventId = %q, want evt_1", ev.ID)
	}
	if l.Len() != 1 {
		t.Errorf("log has %d events, want 1", l.Len())
	}
	sess, ok := r.Get("s1")
	if !ok {
		t.Fatal("session not created")
	}
	if sess.Status != session.Active || sess.ProjectName != "proj" {
		t.Errorf("session = %+v", sess)
	}
	if sched.calls != 1 {
		t.Errorf("snapshot scheduled %d times, want 1", sched.calls)
	}
}

func TestIngestLifecycleScenario(t *testing.T) {
	in, l, r, _ := newTestIngestor()

	steps := []struct {
		p          HookPayload
		wantStatus session.Status
	}{
		{HookPayload{EventType: event.TypeSessionStart, MachineID: "m1",
			Data: event.Payload{SessionID: "s1", Cwd: "/home/x/proj"}}, session.Active},
		{HookPayload{EventType: event.TypeTool, MachineID: "m1",
			Data: event.Payload{SessionID: "s1", ToolName: "Read"}}, session.Active},
		{HookPayload{EventType: event.TypeStop, MachineID: "m1",
			Data: event.Payload{SessionID: "s1"}}, session.Idle},
	}
	for i, step := range steps {
		if _, err := in.Ingest(step.p); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		sess, _ := r.Get("s1")
		if sess.Status != step.wantStatus {
			t.Errorf("step %d: status = %v, want %v", i, sess.Status, step.wantStatus)
		}
	}

	sess, _ := r.Get("s1")
	if sess.ToolCallCount != 1 {
		t.Errorf("toolCallCount = %d, want 1", sess.ToolCallCount)
	}

	events, hasMore := l.Query("s1", 0, 50)
	if len(events) != 3 || hasMore {
		t.Fatalf("got %d events hasMore=%v, want 3 false", len(events), hasMore)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Errorf("events out of order: %s before %s", events[i-1].ID, events[i].ID)
		}
	}

	// Cursor at the second event returns only the third.
	tail, _ := l.Query("s1", events[1].Seq, 50)
	if len(tail) != 1 || tail[0].Seq != events[2].Seq {
		t.Errorf("query since second event returned %d events", len(tail))
	}
}

func TestIngestNotifier(t *testing.T) {
	l := event.NewLog(event.DefaultCapacity)
	r := session.NewRegistry()
	n := &recordingNotifier{}
	in := New(l, r, &countingScheduler{}, n)

	if _, err := in.Ingest(payload("prompt", "s1")); err != nil {
		t.Fatal(err)
	}
	if len(n.events) != 1 || n.events[0].ID != "evt_1" {
		t.Errorf("notifier got %v", n.events)
	}
}

func TestRestoreSeq(t *testing.T) {
	in, _, _, _ := newTestIngestor()
	in.RestoreSeq(41)

	ev, err := in.Ingest(payload("prompt", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "evt_42" {
		t.Errorf("first id after restore = %q, want evt_42", ev.ID)
	}

	// RestoreSeq never moves the counter backwards.
	in.RestoreSeq(10)
	ev, _ = in.Ingest(payload("prompt", "s1"))
	if ev.ID != "evt_43" {
		t.Errorf("id after backwards restore = %q, want evt_43", ev.ID)
	}
}

func TestIngestTimestampsAreServerSide(t *testing.T) {
	in, _, _, _ := newTestIngestor()
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return fixed }

	ev, err := in.Ingest(HookPayload{
		EventType: "prompt",
		MachineID: "m1",
		Timestamp: "2020-01-01T00:00:00Z", // producer clock is ignored
		Data:      event.Payload{SessionID: "s1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ev.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want server time %v", ev.Timestamp, fixed)
	}
}
