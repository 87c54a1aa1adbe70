// Package action exposes the fixed vocabulary of named operations an assistant
// or UI may invoke against a session, and validates their parameters.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/model"
)

// recentExecutions is how many execution records get_current_state reports.
const recentExecutions = 3

var errSectionNotFound = fmt.Errorf("%w: section not found", model.ErrValidation)

// Handlers are the session operations the bridge calls into. A nil field
// leaves the actions that need it unconfigured; they fail with a
// configuration error instead of panicking.
type Handlers struct {
	SetScript func(script string)
	// UpdateScript replaces the script with fn(current) atomically. A non-nil
	// error from fn leaves the script unchanged.
	UpdateScript func(fn func(current string) (string, error)) (string, error)
	Run          func(ctx context.Context) model.ExecutionRecord
	Stop         func(ctx context.Context)
	State        func() model.AppState
}

// Session is anything that can back every handler. *state.Store satisfies it.
type Session interface {
	SetScript(script string)
	UpdateScript(fn func(current string) (string, error)) (string, error)
	RunScript(ctx context.Context) model.ExecutionRecord
	Stop(ctx context.Context)
	Snapshot() model.AppState
}

// HandlersFor binds every handler to s.
func HandlersFor(s Session) Handlers {
	return Handlers{
		SetScript:    s.SetScript,
		UpdateScript: s.UpdateScript,
		Run:          s.RunScript,
		Stop:         s.Stop,
		State:        s.Snapshot,
	}
}

// Configured reports whether every handler is bound.
func (h Handlers) Configured() bool {
	return h.SetScript != nil && h.UpdateScript != nil && h.Run != nil && h.Stop != nil && h.State != nil
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge dispatches named actions to the bound handlers.
type Bridge struct {
	h      Handlers
	logger *zap.Logger
}

// New creates a bridge. Pass Handlers{} for an explicitly unconfigured bridge.
func New(h Handlers, opts ...Option) *Bridge {
	b := &Bridge{h: h, logger: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Actions returns the static vocabulary.
func (b *Bridge) Actions() []model.ActionDescriptor { return Vocabulary() }

// Dispatch runs the named action. Every failure, including a panic inside a
// handler, is reported in the returned result.
func (b *Bridge) Dispatch(ctx context.Context, name string, params map[string]any) (res model.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("action panicked", zap.String("action", name), zap.Any("panic", r))
			res = model.Failure("Error executing action", fmt.Errorf("%v", r))
		}
	}()
	if params == nil {
		params = map[string]any{}
	}

	switch name {
	case UpdateCode:
		res = b.updateCode(params)
	case ModifyCodeSection:
		res = b.modifyCodeSection(params)
	case AddCodeBlock:
		res = b.addCodeBlock(params)
	case ExecuteCode:
		res = b.executeCode(ctx)
	case StopAudio:
		res = b.stopAudio(ctx)
	case GetCurrentState:
		res = b.currentState()
	default:
		res = model.Failure("Unknown action: "+name, fmt.Errorf("%w: action not found", model.ErrValidation))
	}

	fields := []zap.Field{zap.String("action", name), zap.Bool("success", res.Success)}
	if !res.Success {
		fields = append(fields, zap.String("error", res.Error))
	}
	b.logger.Debug("action dispatched", fields...)
	return res
}

func (b *Bridge) updateCode(params map[string]any) model.ActionResult {
	if b.h.SetScript == nil {
		return notConfigured("Update code callback not set")
	}
	code, err := stringParam(params, "code", true)
	if err != nil {
		return model.Failure("Code parameter is required", err)
	}
	explanation, _ := stringParam(params, "explanation", false)

	b.h.SetScript(code)
	return model.ActionResult{
		Success:       true,
		Message:       describe("Code updated", "Code updated successfully", explanation),
		UpdatedScript: code,
	}
}

func (b *Bridge) modifyCodeSection(params map[string]any) model.ActionResult {
	if b.h.UpdateScript == nil {
		return notConfigured("Required callbacks not set")
	}
	target, err := stringParam(params, "targetSection", true)
	if err != nil {
		return model.Failure("targetSection and newSection parameters are required", err)
	}
	// An explicit empty newSection deletes the target.
	replacement, ok, err := optionalString(params, "newSection")
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%w: newSection is required", model.ErrValidation)
		}
		return model.Failure("targetSection and newSection parameters are required", err)
	}
	explanation, _ := stringParam(params, "explanation", false)

	updated, err := b.h.UpdateScript(func(current string) (string, error) {
		if !strings.Contains(current, target) {
			return "", errSectionNotFound
		}
		return strings.Replace(current, target, replacement, 1), nil
	})
	if err != nil {
		return model.Failure("Target section not found in current code", err)
	}
	return model.ActionResult{
		Success:       true,
		Message:       describe("Code modified", "Code section modified successfully", explanation),
		UpdatedScript: updated,
	}
}

func (b *Bridge) addCodeBlock(params map[string]any) model.ActionResult {
	if b.h.UpdateScript == nil {
		return notConfigured("Required callbacks not set")
	}
	block, err := stringParam(params, "codeBlock", true)
	if err != nil {
		return model.Failure("codeBlock parameter is required", err)
	}
	position, err := stringParam(params, "position", false)
	if err != nil {
		return model.Failure("position must be a string", err)
	}
	explanation, _ := stringParam(params, "explanation", false)

	updated, err := b.h.UpdateScript(func(current string) (string, error) {
		switch position {
		case PositionBefore:
			return block + "\n\n" + current, nil
		case PositionReplace:
			return block, nil
		default:
			return current + "\n\n" + block, nil
		}
	})
	if err != nil {
		return model.Failure("Error adding code block", err)
	}
	return model.ActionResult{
		Success:       true,
		Message:       describe("Code block added", "Code block added successfully", explanation),
		UpdatedScript: updated,
	}
}

func (b *Bridge) executeCode(ctx context.Context) model.ActionResult {
	if b.h.Run == nil {
		return notConfigured("Execute code callback not set")
	}
	rec := b.h.Run(ctx)
	if !rec.Success {
		return model.Failure("Error executing code", errors.New(rec.Error))
	}
	return model.ActionResult{Success: true, Message: "Code executed successfully"}
}

func (b *Bridge) stopAudio(ctx context.Context) model.ActionResult {
	if b.h.Stop == nil {
		return notConfigured("Stop audio callback not set")
	}
	b.h.Stop(ctx)
	return model.ActionResult{Success: true, Message: "Audio stopped successfully"}
}

func (b *Bridge) currentState() model.ActionResult {
	if b.h.State == nil {
		return notConfigured("Required callbacks not set")
	}
	st := b.h.State()
	return model.ActionResult{
		Success:       true,
		Message:       "Current state retrieved",
		UpdatedScript: st.Script,
		Snapshot: &model.StateSnapshot{
			Script:           st.Script,
			IsRunning:        st.IsRunning,
			ExecutionHistory: st.RecentExecutions(recentExecutions),
		},
	}
}

func notConfigured(message string) model.ActionResult {
	return model.Failure(message, fmt.Errorf("%w: missing callback", model.ErrNotConfigured))
}

func describe(prefix, fallback, explanation string) string {
	if explanation == "" {
		return fallback
	}
	return prefix + ": " + explanation
}

// stringParam reads a string parameter. Empty strings count as missing.
func stringParam(params map[string]any, name string, required bool) (string, error) {
	s, ok, err := optionalString(params, name)
	if err != nil {
		return "", err
	}
	if required && (!ok || s == "") {
		return "", fmt.Errorf("%w: %s is required", model.ErrValidation, name)
	}
	return s, nil
}

// optionalString reads a string parameter, reporting whether it was present.
func optionalString(params map[string]any, name string) (string, bool, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: %s must be a string, got %T", model.ErrValidation, name, v)
	}
	return s, true, nil
}
