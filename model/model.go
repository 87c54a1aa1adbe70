// Package model defines the core domain types shared across all LiveCoder packages.
// It has zero dependencies on other LiveCoder packages.
package model

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single entry in the bounded conversation log.
type ChatMessage struct {
	ID        int    `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // display string, e.g. "3:04:05 PM"
}

// ExecutionRecord is one attempt to run the script in the sandbox.
type ExecutionRecord struct {
	ID        string    `json:"id"`
	Script    string    `json:"script"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// AppState is the single authoritative state of a session.
type AppState struct {
	Script              string            `json:"script"`
	IsRunning           bool              `json:"is_running"`
	IsExecuting         bool              `json:"is_executing"`
	IsAwaitingAssistant bool              `json:"is_awaiting_assistant"`
	Messages            []ChatMessage     `json:"messages"`
	ExecutionHistory    []ExecutionRecord `json:"execution_history"`
}

// Clone returns a deep copy of the state so callers can't alias its slices.
func (s AppState) Clone() AppState {
	out := s
	out.Messages = append([]ChatMessage(nil), s.Messages...)
	out.ExecutionHistory = append([]ExecutionRecord(nil), s.ExecutionHistory...)
	return out
}

// RecentExecutions returns up to n of the most recent execution records.
func (s AppState) RecentExecutions(n int) []ExecutionRecord {
	if n <= 0 || len(s.ExecutionHistory) == 0 {
		return []ExecutionRecord{}
	}
	start := len(s.ExecutionHistory) - n
	if start < 0 {
		start = 0
	}
	return append([]ExecutionRecord(nil), s.ExecutionHistory[start:]...)
}

// ParamSpec describes a single action parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
}

// ActionDescriptor describes a named action in the static vocabulary.
type ActionDescriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]ParamSpec `json:"parameters"`
}

// StateSnapshot is the payload returned by the get_current_state action.
type StateSnapshot struct {
	Script           string            `json:"script"`
	IsRunning        bool              `json:"is_running"`
	ExecutionHistory []ExecutionRecord `json:"execution_history"`
}

// ActionResult is returned by every dispatched action. Failures are reported
// in-band; dispatch never panics.
type ActionResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	UpdatedScript string         `json:"updated_script,omitempty"`
	Error         string         `json:"error,omitempty"`
	Snapshot      *StateSnapshot `json:"snapshot,omitempty"`
}

// ActionRecord pairs a dispatched action name with its result.
type ActionRecord struct {
	Action string       `json:"action"`
	Result ActionResult `json:"result"`
}

// ChatReply is the aggregated outcome of one chat turn.
type ChatReply struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message,omitempty"`
	Error           string         `json:"error,omitempty"`
	Model           string         `json:"model,omitempty"`
	ActionsExecuted []ActionRecord `json:"actions_executed"`
	CodeUpdated     bool           `json:"code_updated"`
}

// EventType classifies journal events.
type EventType string

const (
	EventMessage   EventType = "message"
	EventExecution EventType = "execution"
	EventAction    EventType = "action"
	EventScript    EventType = "script"
)

// Event is a single entry in the session journal.
type Event struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
