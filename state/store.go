// Package state owns the authoritative session state: the script, the
// execution flags, and the bounded chat and execution histories.
//
// All mutation goes through Store.Apply with one of the Transition types, or
// through the compound operations RunScript and Stop, which compose those
// transitions around a call into the sandbox.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/model"
	"github.com/jxucoder/livecoder/sandbox"
)

// TimestampLayout is the display format for chat message timestamps.
const TimestampLayout = "3:04:05 PM"

// DefaultSeedMessage is the first, permanently retained chat entry.
const DefaultSeedMessage = "Hello! I'm here to help you with your live script. I can write code, modify " +
	"existing code, run it, and stop it. What would you like to create?"

// Assistant messages appended by the compound operations.
const (
	msgRunSucceeded = "Great! Your script has been executed successfully. It is running now!"
	msgRunFailed    = "Error executing script: %s. Please check your syntax and try again."
	msgRunPanicked  = "Unexpected error: %v"
	msgStopped      = "Playback stopped and all sandbox objects disposed."
)

// Executor runs scripts. *sandbox.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, script string) sandbox.Result
	Stop(ctx context.Context)
}

// Config holds the store's limits and initial content.
type Config struct {
	// MaxMessages caps the chat log, seed included (default 20).
	MaxMessages int
	// MaxExecutions caps the execution history (default 10).
	MaxExecutions int
	// SeedMessage is the assistant greeting kept at index 0.
	SeedMessage string
	// InitialScript is the script the session starts with.
	InitialScript string
}

// Observer is notified after every applied transition, in order, while the
// store lock is held. Observers must not call back into the store.
type Observer func(t Transition, s model.AppState)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observers = append(s.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDFunc overrides the execution record id generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the single source of truth for one session.
type Store struct {
	cfg       Config
	exec      Executor
	logger    *zap.Logger
	observers []Observer
	now       func() time.Time
	newID     func() string

	// opMu serializes compound operations so a run or stop always finishes its
	// dispose/replace cycle before the next one starts.
	opMu sync.Mutex

	mu            sync.Mutex
	state         model.AppState
	seed          model.ChatMessage
	nextMessageID int
}

// New creates a Store backed by exec.
func New(cfg Config, exec Executor, opts ...Option) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.MaxExecutions <= 0 {
		cfg.MaxExecutions = 10
	}
	if cfg.SeedMessage == "" {
		cfg.SeedMessage = DefaultSeedMessage
	}

	s := &Store{
		cfg:    cfg,
		exec:   exec,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}

	s.seed = model.ChatMessage{
		ID:        1,
		Role:      model.RoleAssistant,
		Content:   cfg.SeedMessage,
		Timestamp: s.now().Format(TimestampLayout),
	}
	s.nextMessageID = 2
	s.state = model.AppState{
		Script:           cfg.InitialScript,
		Messages:         []model.ChatMessage{s.seed},
		ExecutionHistory: []model.ExecutionRecord{},
	}
	return s
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Apply applies one transition.
func (s *Store) Apply(t Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(t)
}

func (s *Store) applyLocked(t Transition) {
	s.state = s.reduce(s.state, t)
	if len(s.observers) == 0 {
		return
	}
	snap := s.state.Clone()
	for _, o := range s.observers {
		o(t, snap)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() model.AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Script returns the current script.
func (s *Store) Script() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Script
}

// SetScript replaces the script.
func (s *Store) SetScript(script string) { s.Apply(SetScript{Script: script}) }

// UpdateScript replaces the script with fn(current) as one atomic step. When
// fn fails the script is left unchanged and the error is returned.
func (s *Store) UpdateScript(fn func(current string) (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := fn(s.state.Script)
	if err != nil {
		return s.state.Script, err
	}
	s.applyLocked(SetScript{Script: updated})
	return updated, nil
}

// AddMessage appends a chat message.
func (s *Store) AddMessage(role model.Role, content string) {
	s.Apply(AddMessage{Role: role, Content: content})
}

// ClearMessages resets the conversation to the seed message.
func (s *Store) ClearMessages() { s.Apply(ClearMessages{}) }

// RunScript executes the current script in the sandbox, records the attempt,
// and reports the outcome as an assistant message. IsExecuting is cleared on
// every path.
func (s *Store) RunScript(ctx context.Context) model.ExecutionRecord {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.Apply(SetExecuting{Executing: true})
	defer s.Apply(SetExecuting{Executing: false})

	script := s.Script()
	res, panicked := s.execute(ctx, script)

	s.Apply(RecordExecution{Script: script, Success: res.Success, Error: res.Error})
	rec := s.lastExecution()

	switch {
	case res.Success:
		s.Apply(SetRunning{Running: true})
		s.AddMessage(model.RoleAssistant, msgRunSucceeded)
		s.logger.Info("script executed",
			zap.String("execution_id", rec.ID),
			zap.Uint64("generation", res.Generation),
			zap.Int("objects", res.Objects),
		)
	case panicked != nil:
		s.Apply(SetRunning{Running: false})
		s.AddMessage(model.RoleAssistant, fmt.Sprintf(msgRunPanicked, panicked))
		s.logger.Error("script execution panicked", zap.Any("panic", panicked))
	default:
		// The previous generation was disposed before the failed attempt.
		s.Apply(SetRunning{Running: false})
		s.AddMessage(model.RoleAssistant, fmt.Sprintf(msgRunFailed, res.Error))
		s.logger.Warn("script execution failed",
			zap.String("execution_id", rec.ID),
			zap.String("error", res.Error),
		)
	}
	return rec
}

// Stop halts scheduled work, disposes the sandbox context, and reports it.
func (s *Store) Stop(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.exec != nil {
		s.exec.Stop(ctx)
	}
	s.Apply(SetRunning{Running: false})
	s.AddMessage(model.RoleAssistant, msgStopped)
	s.logger.Info("sandbox stopped")
}

func (s *Store) execute(ctx context.Context, script string) (res sandbox.Result, panicked any) {
	if s.exec == nil {
		err := fmt.Errorf("%w: sandbox executor is not set", model.ErrNotConfigured)
		return sandbox.Result{Success: false, Error: err.Error()}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			panicked = r
			res = sandbox.Result{Success: false, Error: fmt.Sprint(r)}
		}
	}()
	return s.exec.Execute(ctx, script), nil
}

func (s *Store) lastExecution() model.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.state.ExecutionHistory
	if len(h) == 0 {
		return model.ExecutionRecord{}
	}
	return h[len(h)-1]
}
