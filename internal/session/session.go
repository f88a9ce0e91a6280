package session

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a monitored session.
type Status int

const (
	Active Status = iota
	Idle
	Ended
)

var statusNames = map[Status]string{
	Active: "active",
	Idle:   "idle",
	Ended:  "ended",
}

var statusFromName = map[string]Status{
	"active": Active,
	"idle":   Idle,
	"ended":  Ended,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// TokenUsage accumulates token counts for a session. No current event
// type carries usage data, so the counters stay zero; the field is
// reserved for producers that start reporting it.
type TokenUsage struct {
	Input     int `json:"input"`
	Output    int `json:"output"`
	CacheRead int `json:"cacheRead"`
}

// Session is the aggregate state of one monitored unit of work.
type Session struct {
	SessionID      string     `json:"sessionId"`
	MachineID      string     `json:"machineId"`
	MachineName    string     `json:"machineName"`
	ProjectPath    string     `json:"projectPath"`
	ProjectName    string     `json:"projectName"`
	Status         Status     `json:"status"`
	Model          string     `json:"model,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	MessageCount   int        `json:"messageCount"`
	ToolCallCount  int        `json:"toolCallCount"`
	TokenUsage     TokenUsage `json:"tokenUsage"`
}

// projectName derives a display name from a working directory: the last
// path segment, or the path itself when it has none.
func projectName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		return trimmed[i+1:]
	}
	if trimmed != "" {
		return trimmed
	}
	return path
}
