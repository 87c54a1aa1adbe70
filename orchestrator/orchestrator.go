// Package orchestrator turns one user utterance into a chat-completion call,
// dispatches the tool calls in the response through the action bridge in
// order, and aggregates a single reply.
//
// It never touches session state directly: everything it changes goes through
// the Dispatcher, and everything it reads comes from the prior snapshot the
// caller passes in.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
)

// Reply texts.
const (
	msgNotConfigured = "API key not configured"
	msgFallback      = "Action completed successfully"
)

// Dispatcher runs named actions. *action.Bridge implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) model.ActionResult
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPersona replaces the opening paragraph of the system prompt.
func WithPersona(p string) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.persona = p
		}
	}
}

// WithLanguage sets the code fence language used for the script in the
// prompt (for example "javascript" or "python").
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithMaxTokens sets the completion budget.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// Orchestrator drives one chat turn at a time. It holds no per-turn state.
type Orchestrator struct {
	client     llm.Client
	dispatcher Dispatcher
	tools      []model.ActionDescriptor
	logger     *zap.Logger
	persona    string
	language   string
	maxTokens  int
}

// New creates an orchestrator. A nil client makes every turn fail with a
// configuration error.
func New(client llm.Client, dispatcher Dispatcher, opts ...Option) *Orchestrator {
	if dispatcher == nil {
		dispatcher = action.New(action.Handlers{})
	}
	o := &Orchestrator{
		client:     client,
		dispatcher: dispatcher,
		tools:      action.Vocabulary(),
		logger:     zap.NewNop(),
		persona:    DefaultPersona,
		language:   "javascript",
		maxTokens:  3000,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Configured reports whether a completion client is bound.
func (o *Orchestrator) Configured() bool { return o.client != nil }

// SystemPrompt returns the system prompt Respond would send for prior.
func (o *Orchestrator) SystemPrompt(prior model.AppState) string {
	return o.buildSystemPrompt(prior)
}

// Respond runs one turn. prior is the session state before the user message
// was added. Errors are reported in the reply, never returned.
func (o *Orchestrator) Respond(ctx context.Context, userMessage string, prior model.AppState) model.ChatReply {
	if o.client == nil {
		return model.ChatReply{Success: false, Error: msgNotConfigured, ActionsExecuted: []model.ActionRecord{}}
	}

	resp, err := o.client.Complete(ctx, llm.Request{
		System:    o.buildSystemPrompt(prior),
		User:      userMessage,
		Tools:     o.tools,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		o.logger.Warn("chat completion failed", zap.Error(err))
		return model.ChatReply{Success: false, Error: transportMessage(err), ActionsExecuted: []model.ActionRecord{}}
	}

	var text strings.Builder
	reply := model.ChatReply{Success: true, Model: resp.Model, ActionsExecuted: []model.ActionRecord{}}

	for _, seg := range resp.Segments {
		switch seg.Type {
		case llm.SegmentText:
			text.WriteString(seg.Text)
		case llm.SegmentToolCall:
			res := o.dispatcher.Dispatch(ctx, seg.Name, seg.Input)
			reply.ActionsExecuted = append(reply.ActionsExecuted, model.ActionRecord{Action: seg.Name, Result: res})
			if res.Success && action.Mutating(seg.Name) {
				reply.CodeUpdated = true
			}
			if !res.Success {
				fmt.Fprintf(&text, "\n\nAction %q failed: %s", seg.Name, res.Error)
			}
			o.logger.Debug("tool call handled",
				zap.String("action", seg.Name),
				zap.Bool("success", res.Success),
			)
		default:
			o.logger.Warn("ignoring unknown response segment", zap.String("type", string(seg.Type)))
		}
	}

	msg := text.String()
	if len(reply.ActionsExecuted) > 0 && strings.TrimSpace(msg) == "" {
		var lines []string
		for _, a := range reply.ActionsExecuted {
			if a.Result.Success {
				lines = append(lines, a.Result.Message)
			}
		}
		msg = strings.Join(lines, "\n")
	}
	if msg == "" {
		msg = msgFallback
	}
	reply.Message = msg
	return reply
}

// transportMessage drops the taxonomy prefix from a transport error.
func transportMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, model.ErrTransport) {
		msg = strings.TrimPrefix(msg, model.ErrTransport.Error()+": ")
	}
	return msg
}
