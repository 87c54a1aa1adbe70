// Package engine composes one live-coding session: the state store, the
// sandbox, the action bridge, the chat orchestrator and the journal. Every
// surface (HTTP, MCP, CLI) drives a session only through this package.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
	"github.com/jxucoder/livecoder/orchestrator"
	"github.com/jxucoder/livecoder/sandbox"
	"github.com/jxucoder/livecoder/state"
	"github.com/jxucoder/livecoder/store"
)

// msgChatFailed prefixes the assistant message added when a chat turn fails.
const msgChatFailed = "Sorry, I couldn't complete that: %s"

// Config holds engine-specific configuration.
type Config struct {
	State   state.Config
	Sandbox sandbox.EngineConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOrchestratorOptions passes options through to the orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(e *Engine) { e.orchOpts = append(e.orchOpts, opts...) }
}

// WithStateOptions passes options through to the state store.
func WithStateOptions(opts ...state.Option) Option {
	return func(e *Engine) { e.stateOpts = append(e.stateOpts, opts...) }
}

// Engine orchestrates a single session.
type Engine struct {
	config  Config
	logger  *zap.Logger
	journal store.Journal

	state   *state.Store
	sandbox *sandbox.Engine
	bridge  *action.Bridge
	orch    *orchestrator.Orchestrator

	orchOpts  []orchestrator.Option
	stateOpts []state.Option

	// turnMu serializes chat turns.
	turnMu sync.Mutex

	closeOnce sync.Once
}

// New wires a session. rt, client and journal may each be nil: runs then fail
// with a configuration error, chat turns report "API key not configured", and
// nothing is journaled.
func New(cfg Config, rt sandbox.Runtime, client llm.Client, journal store.Journal, opts ...Option) *Engine {
	e := &Engine{
		config:  cfg,
		logger:  zap.NewNop(),
		journal: journal,
	}
	for _, o := range opts {
		o(e)
	}

	e.sandbox = sandbox.NewEngine(rt,
		sandbox.WithConfig(cfg.Sandbox),
		sandbox.WithLogger(e.logger.Named("sandbox")),
	)

	stateOpts := append([]state.Option{
		state.WithLogger(e.logger.Named("state")),
		state.WithObserver(e.observe),
	}, e.stateOpts...)
	// A nil runtime still goes through the sandbox engine, which reports it.
	e.state = state.New(cfg.State, e.sandbox, stateOpts...)

	e.bridge = action.New(action.HandlersFor(e.state), action.WithLogger(e.logger.Named("action")))

	orchOpts := append([]orchestrator.Option{
		orchestrator.WithLogger(e.logger.Named("orchestrator")),
	}, e.orchOpts...)
	e.orch = orchestrator.New(client, e.bridge, orchOpts...)
	return e
}

// State returns a snapshot of the session state.
func (e *Engine) State() model.AppState { return e.state.Snapshot() }

// SetScript replaces the script.
func (e *Engine) SetScript(script string) { e.state.SetScript(script) }

// Run executes the current script.
func (e *Engine) Run(ctx context.Context) model.ExecutionRecord { return e.state.RunScript(ctx) }

// Stop halts playback and disposes the sandbox context.
func (e *Engine) Stop(ctx context.Context) { e.state.Stop(ctx) }

// ClearMessages resets the conversation to the seed message.
func (e *Engine) ClearMessages() { e.state.ClearMessages() }

// Actions returns the action vocabulary.
func (e *Engine) Actions() []model.ActionDescriptor { return e.bridge.Actions() }

// Live returns the names of the objects in the live sandbox context.
func (e *Engine) Live() []string { return e.sandbox.Live() }

// ChatConfigured reports whether chat turns can reach a model.
func (e *Engine) ChatConfigured() bool { return e.orch.Configured() }

// Dispatch runs a named action and journals it.
func (e *Engine) Dispatch(ctx context.Context, name string, params map[string]any) model.ActionResult {
	res := e.bridge.Dispatch(ctx, name, params)
	e.emitEvent(model.EventAction, actionEvent{Action: name, Params: params, Result: res})
	return res
}

// SendMessage runs one chat turn: the user message is recorded, the
// orchestrator sees the state from before it, and the reply (or the failure)
// is recorded as an assistant message. Turns never overlap.
func (e *Engine) SendMessage(ctx context.Context, text string) model.ChatReply {
	e.turnMu.Lock()
	defer e.turnMu.Unlock()

	prior := e.state.Snapshot()
	e.state.AddMessage(model.RoleUser, text)
	e.state.Apply(state.SetAwaitingAssistant{Awaiting: true})
	defer e.state.Apply(state.SetAwaitingAssistant{Awaiting: false})

	reply := e.orch.Respond(ctx, text, prior)
	for _, a := range reply.ActionsExecuted {
		e.emitEvent(model.EventAction, actionEvent{Action: a.Action, Result: a.Result, FromChat: true})
	}

	if reply.Success {
		e.state.AddMessage(model.RoleAssistant, reply.Message)
	} else {
		e.state.AddMessage(model.RoleAssistant, fmt.Sprintf(msgChatFailed, reply.Error))
		e.logger.Warn("chat turn failed", zap.String("error", reply.Error))
	}
	return reply
}

// Events returns journal entries after afterID.
func (e *Engine) Events(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	if e.journal == nil {
		return []*model.Event{}, nil
	}
	return e.journal.Events(ctx, afterID, limit)
}

// Close stops playback and closes the journal. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.sandbox.Stop(ctx)
		if e.journal != nil {
			err = e.journal.Close()
		}
	})
	return err
}

type actionEvent struct {
	Action   string             `json:"action"`
	Params   map[string]any     `json:"params,omitempty"`
	Result   model.ActionResult `json:"result"`
	FromChat bool               `json:"from_chat,omitempty"`
}

// observe journals transitions that carry content. It runs under the state
// lock and must not call back into the store.
func (e *Engine) observe(t state.Transition, s model.AppState) {
	switch t := t.(type) {
	case state.AddMessage:
		if n := len(s.Messages); n > 0 {
			e.emitEvent(model.EventMessage, s.Messages[n-1])
		}
	case state.ClearMessages:
		e.emitEvent(model.EventMessage, map[string]bool{"cleared": true})
	case state.RecordExecution:
		if n := len(s.ExecutionHistory); n > 0 {
			e.emitEvent(model.EventExecution, s.ExecutionHistory[n-1])
		}
	case state.SetScript:
		e.emitEvent(model.EventScript, map[string]string{"script": t.Script})
	}
}

func (e *Engine) emitEvent(typ model.EventType, v any) {
	if e.journal == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Warn("encoding journal event", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	if err := e.journal.Append(context.Background(), &model.Event{Type: typ, Data: data}); err != nil {
		e.logger.Warn("appending journal event", zap.String("type", string(typ)), zap.Error(err))
	}
}
