package state

import (
	"fmt"

	"github.com/jxucoder/livecoder/model"
)

// Transition is the closed set of state changes a Store accepts. Only the
// types declared in this file implement it.
type Transition interface {
	transition()
}

// SetScript replaces the script unconditionally.
type SetScript struct{ Script string }

// SetRunning sets the IsRunning flag.
type SetRunning struct{ Running bool }

// SetExecuting sets the IsExecuting flag.
type SetExecuting struct{ Executing bool }

// SetAwaitingAssistant sets the IsAwaitingAssistant flag.
type SetAwaitingAssistant struct{ Awaiting bool }

// AddMessage appends a chat message. The store assigns its id and timestamp.
type AddMessage struct {
	Role    model.Role
	Content string
}

// ClearMessages resets the conversation to the seed message.
type ClearMessages struct{}

// RecordExecution appends an execution record. The store assigns its id and
// timestamp.
type RecordExecution struct {
	Script  string
	Success bool
	Error   string
}

func (SetScript) transition()            {}
func (SetRunning) transition()           {}
func (SetExecuting) transition()         {}
func (SetAwaitingAssistant) transition() {}
func (AddMessage) transition()           {}
func (ClearMessages) transition()        {}
func (RecordExecution) transition()      {}

// reduce computes the next state. Every Transition type has exactly one case.
func (s *Store) reduce(prev model.AppState, t Transition) model.AppState {
	next := prev
	switch t := t.(type) {
	case SetScript:
		next.Script = t.Script
	case SetRunning:
		next.IsRunning = t.Running
	case SetExecuting:
		next.IsExecuting = t.Executing
	case SetAwaitingAssistant:
		next.IsAwaitingAssistant = t.Awaiting
	case AddMessage:
		msg := model.ChatMessage{
			ID:        s.nextMessageID,
			Role:      t.Role,
			Content:   t.Content,
			Timestamp: s.now().Format(TimestampLayout),
		}
		s.nextMessageID++
		next.Messages = AppendMessage(prev.Messages, msg, s.cfg.MaxMessages)
	case ClearMessages:
		seed := s.seed
		seed.Timestamp = s.now().Format(TimestampLayout)
		next.Messages = []model.ChatMessage{seed}
	case RecordExecution:
		rec := model.ExecutionRecord{
			ID:        s.newID(),
			Script:    t.Script,
			Timestamp: s.now().UTC(),
			Success:   t.Success,
			Error:     t.Error,
		}
		next.ExecutionHistory = AppendExecution(prev.ExecutionHistory, rec, s.cfg.MaxExecutions)
	default:
		panic(fmt.Sprintf("state: unhandled transition %T", t))
	}
	return next
}
