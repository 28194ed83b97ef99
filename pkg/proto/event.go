package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventKind identifies the shape of an event's payload.
type EventKind string

const (
	EventSessionCreated EventKind = "session_created"
	EventLog            EventKind = "log"
	EventStatus         EventKind = "status"
	EventRefinedPrompt  EventKind = "refined_prompt"
	EventCodeResult     EventKind = "code_result"
	EventError          EventKind = "error"
)

// Status values carried by status events.
type Status string

const (
	StatusStarted    Status = "started"
	StatusRefining   Status = "refining"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// LogLevel values carried by log events.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelSuccess LogLevel = "success"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Common payload keys used in events.
const (
	KeyAgent    = "agent"
	KeyMessage  = "message"
	KeyLevel    = "level"
	KeyStatus   = "status"
	KeyOriginal = "original"
	KeyRefined  = "refined"
	KeyCode     = "code"
	KeyVersions = "versions"
	KeyError    = "error"
	KeyAttempt  = "attempt"
	KeyFindings = "findings"
)

// Event is one entry in a session's ordered event stream. Events are
// strictly ordered per session (Seq is monotonic) but unordered across
// sessions.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Kind      EventKind      `json:"kind"`
	Seq       uint64         `json:"seq"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// VersionPayload is the wire shape of one ledger entry inside a
// code_result event.
type VersionPayload struct {
	Attempt   int       `json:"attempt"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID and timestamp. Seq is assigned
// by the emitter, not here.
func NewEvent(sessionID string, kind EventKind) *Event {
	return &Event{
		ID:        generateID(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   make(map[string]any),
	}
}

func (e *Event) SetPayload(key string, value any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
}

func (e *Event) GetPayload(key string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	val, exists := e.Payload[key]
	return val, exists
}

// PayloadString extracts a string payload value, returning "" when absent
// or of a different type.
func (e *Event) PayloadString(key string) string {
	if val, exists := e.GetPayload(key); exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func (e *Event) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// EventFromJSON parses a single event from its JSON encoding.
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if _, valid := ValidateEventKind(string(e.Kind)); !valid {
		return fmt.Errorf("invalid event kind: %s", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

var (
	idCounter int64
	idMu      sync.Mutex
)

func generateID() string {
	idMu.Lock()
	defer idMu.Unlock()

	idCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), idCounter)
}

// ValidateEventKind validates if a string is a valid event kind.
func ValidateEventKind(kind string) (EventKind, bool) {
	switch EventKind(kind) {
	case EventSessionCreated, EventLog, EventStatus,
		EventRefinedPrompt, EventCodeResult, EventError:
		return EventKind(kind), true
	default:
		return "", false
	}
}

// ParseEventKind parses a string into an EventKind with validation.
func ParseEventKind(s string) (EventKind, error) {
	if kind, valid := ValidateEventKind(strings.ToLower(s)); valid {
		return kind, nil
	}
	return "", fmt.Errorf("unknown event kind: %s", s)
}

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// ValidateStatus validates if a string is a valid status value.
func ValidateStatus(status string) (Status, bool) {
	switch Status(status) {
	case StatusStarted, StatusRefining, StatusGenerating, StatusCompleted,
		StatusFailed, StatusStopped, StatusError:
		return Status(status), true
	default:
		return "", false
	}
}
