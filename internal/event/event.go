package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Lifecycle event types emitted by monitored tool instances. Anything
// else is carried through untouched and leaves session state alone.
const (
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypePrompt       = "prompt"
	TypeTool         = "tool"
	TypeStop         = "stop"
)

const idPrefix = "evt_"

// FormatID renders a sequence number in the wire form ("evt_42").
func FormatID(seq int64) string {
	return idPrefix + strconv.FormatInt(seq, 10)
}

// ParseID decodes an event id back to its sequence number. Both the
// prefixed wire form and a bare integer are accepted. All ordering and
// cursor comparisons go through the decoded integer; comparing the
// string forms would order "evt_9" after "evt_10".
func ParseID(id string) (int64, error) {
	s := strings.TrimPrefix(id, idPrefix)
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("invalid event id %q", id)
	}
	return seq, nil
}

// Event is one ingested hook event. Events are immutable once appended.
type Event struct {
	ID        string    `json:"eventId"`
	SessionID string    `json:"sessionId"`
	Type      string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`

	// Seq is the decoded form of ID, kept off the wire.
	Seq int64 `json:"-"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Event(a)
	if seq, err := ParseID(e.ID); err == nil {
		e.Seq = seq
	}
	return nil
}

// Payload is the event-type-dependent body of a hook event. The fields
// below are the ones the server interprets; everything else a producer
// sends is preserved in Extra and round-trips through storage and the
// query API unchanged.
type Payload struct {
	SessionID      string          `json:"session_id"`
	Cwd            string          `json:"cwd,omitempty"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	PermissionMode string          `json:"permission_mode,omitempty"`
	HookEventName  string          `json:"hook_event_name,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse   string          `json:"tool_response,omitempty"`
	Source         string          `json:"source,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Message        string          `json:"message,omitempty"`
	Model          string          `json:"model,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var payloadKnownKeys = map[string]bool{
	"session_id":      true,
	"cwd":             true,
	"transcript_path": true,
	"permission_mode": true,
	"hook_event_name": true,
	"prompt":          true,
	"tool_name":       true,
	"tool_input":      true,
	"tool_response":   true,
	"source":          true,
	"reason":          true,
	"message":         true,
	"model":           true,
}

func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	data, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return data, nil
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(payloadKnownKeys))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias Payload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if payloadKnownKeys[k] {
			delete(raw, k)
		}
	}
	if len(raw) == 0 {
		raw = nil
	}
	*p = Payload(a)
	p.Extra = raw
	return nil
}
