package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CommandKind identifies a client-facing command.
type CommandKind string

const (
	CommandStartGeneration    CommandKind = "start_generation"
	CommandContinueGeneration CommandKind = "continue_generation"
	CommandRefineAgain        CommandKind = "refine_again"
	CommandStopGeneration     CommandKind = "stop_generation"
)

// String returns the string representation of CommandKind.
func (k CommandKind) String() string {
	return string(k)
}

// ValidateCommandKind validates if a string is a valid command kind.
func ValidateCommandKind(kind string) (CommandKind, bool) {
	switch CommandKind(kind) {
	case CommandStartGeneration, CommandContinueGeneration, CommandRefineAgain, CommandStopGeneration:
		return CommandKind(kind), true
	default:
		return "", false
	}
}

// ParseCommandKind parses a string into a CommandKind with validation.
func ParseCommandKind(s string) (CommandKind, error) {
	if kind, valid := ValidateCommandKind(strings.ToLower(s)); valid {
		return kind, nil
	}
	return "", fmt.Errorf("unknown command: %s", s)
}

// Command is a client request against a session. SessionID is empty for
// start_generation (the server assigns one) and required otherwise.
type Command struct {
	Kind       CommandKind `json:"kind"`
	SessionID  string      `json:"session_id,omitempty"`
	Prompt     string      `json:"prompt,omitempty"`      // start_generation
	Model      string      `json:"model,omitempty"`       // start_generation
	UseRefined bool        `json:"use_refined,omitempty"` // continue_generation
}

// CommandFromJSON parses a command from its JSON encoding.
func CommandFromJSON(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return &cmd, nil
}

func (c *Command) ToJSON() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return data, nil
}

// Validate checks structural requirements per command kind.
func (c *Command) Validate() error {
	if _, valid := ValidateCommandKind(string(c.Kind)); !valid {
		return fmt.Errorf("invalid command kind: %s", c.Kind)
	}

	switch c.Kind {
	case CommandStartGeneration:
		if strings.TrimSpace(c.Prompt) == "" {
			return fmt.Errorf("start_generation requires a prompt")
		}
	case CommandContinueGeneration, CommandRefineAgain, CommandStopGeneration:
		if c.SessionID == "" {
			return fmt.Errorf("%s requires a session_id", c.Kind)
		}
	}
	return nil
}
