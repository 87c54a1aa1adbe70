// Package starrt is a Starlark sandbox runtime.
//
// Scripts see three predeclared names: context (a dict the script fills with
// objects to keep), the runtime handle (default name "host") and struct. Script
// execution and scheduled callbacks are serialized, so a script never runs
// concurrently with its own timers.
package starrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/sandbox"
)

// DefaultHandleName is the predeclared name of the runtime handle.
const DefaultHandleName = "host"

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for print and log().
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithHandleName renames the runtime handle.
func WithHandleName(name string) Option {
	return func(r *Runtime) {
		if name != "" {
			r.handleName = name
		}
	}
}

// WithMaxSteps bounds the Starlark steps of a single run or callback (0 = no
// limit).
func WithMaxSteps(n uint64) Option {
	return func(r *Runtime) { r.maxSteps = n }
}

// Runtime implements sandbox.Runtime with go.starlark.net.
type Runtime struct {
	logger     *zap.Logger
	handleName string
	maxSteps   uint64
	handle     *starlarkstruct.Struct
	epoch      time.Time

	// execMu serializes script runs, callbacks and dispose calls.
	execMu sync.Mutex

	timerMu    sync.Mutex
	timers     map[int64]*time.Timer
	nextTimer  int64
	generation uint64
	closed     bool
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a runtime.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		logger:     zap.NewNop(),
		handleName: DefaultHandleName,
		timers:     make(map[int64]*time.Timer),
		epoch:      time.Now(),
	}
	for _, o := range opts {
		o(r)
	}
	r.handle = r.newHandle()
	return r
}

// Activate reports whether the runtime can accept work. Starlark needs no
// warm-up.
func (r *Runtime) Activate(context.Context) error {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.closed {
		return errors.New("starlark runtime is closed")
	}
	return nil
}

// HaltScheduled stops every pending timer. Callbacks already waiting for the
// execution lock see the generation change and return without running.
func (r *Runtime) HaltScheduled() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.haltLocked()
}

func (r *Runtime) haltLocked() {
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.generation++
}

// Close halts scheduled work. Later activations fail.
func (r *Runtime) Close() error {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	r.haltLocked()
	r.closed = true
	return nil
}

// Pending reports the number of live timers.
func (r *Runtime) Pending() int {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	return len(r.timers)
}

// Compile parses and resolves script.
func (r *Runtime) Compile(script string) (sandbox.Program, error) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, "script.star", script, r.isPredeclared)
	if err != nil {
		return nil, err
	}
	return &program{rt: r, prog: prog}, nil
}

func (r *Runtime) isPredeclared(name string) bool {
	return name == "context" || name == "struct" || name == r.handleName
}

type program struct {
	rt   *Runtime
	prog *starlark.Program
}

// Run executes the program's top level. Cancelling ctx cancels the thread.
func (p *program) Run(ctx context.Context, sc sandbox.Context) error {
	r := p.rt
	r.execMu.Lock()
	defer r.execMu.Unlock()

	thread := r.newThread("script")
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	target := starlark.NewDict(0)
	predeclared := starlark.StringDict{
		"context":    target,
		"struct":     starlark.NewBuiltin("struct", starlarkstruct.Make),
		r.handleName: r.handle,
	}
	_, err := p.prog.Init(thread, predeclared)
	// Attached objects are collected even on failure so they can be disposed.
	r.collect(target, sc)
	if err != nil {
		return errors.New(scriptError(err))
	}
	return nil
}

func (r *Runtime) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Info(msg, zap.String("source", "script"))
		},
	}
	if r.maxSteps > 0 {
		thread.SetMaxExecutionSteps(r.maxSteps)
	}
	return thread
}

func (r *Runtime) collect(target *starlark.Dict, sc sandbox.Context) {
	for _, item := range target.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			key = item[0].String()
		}
		sc[key] = r.wrap(item[1])
	}
}

// wrap turns values with a callable dispose attribute into sandbox.Disposers.
func (r *Runtime) wrap(v starlark.Value) any {
	if obj, ok := v.(starlark.HasAttrs); ok {
		if attr, err := obj.Attr("dispose"); err == nil && attr != nil {
			if fn, ok := attr.(starlark.Callable); ok {
				return &object{rt: r, value: v, dispose: fn}
			}
		}
	}
	return v
}

type object struct {
	rt      *Runtime
	value   starlark.Value
	dispose starlark.Callable
}

func (o *object) Dispose() error {
	o.rt.execMu.Lock()
	defer o.rt.execMu.Unlock()
	if _, err := starlark.Call(o.rt.newThread("dispose"), o.dispose, nil, nil); err != nil {
		return errors.New(scriptError(err))
	}
	return nil
}

// scriptError returns the evaluation message without the backtrace.
func scriptError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return strings.TrimPrefix(evalErr.Msg, "fail: ")
	}
	return err.Error()
}

func (r *Runtime) newHandle() *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlark.String(r.handleName), starlark.StringDict{
		"schedule":        starlark.NewBuiltin("schedule", r.scheduleBuiltin(false)),
		"schedule_repeat": starlark.NewBuiltin("schedule_repeat", r.scheduleBuiltin(true)),
		"clear":           starlark.NewBuiltin("clear", r.clearBuiltin),
		"cancel":          starlark.NewBuiltin("cancel", r.cancelBuiltin),
		"pending":         starlark.NewBuiltin("pending", r.pendingBuiltin),
		"log":             starlark.NewBuiltin("log", r.logBuiltin),
		"now":             starlark.NewBuiltin("now", r.nowBuiltin),
	})
}

func (r *Runtime) scheduleBuiltin(repeat bool) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fn starlark.Callable
		var ms int
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn", &fn, "ms", &ms); err != nil {
			return nil, err
		}
		if ms < 0 {
			ms = 0
		}
		if repeat && ms == 0 {
			return nil, fmt.Errorf("%s: interval must be positive", b.Name())
		}

		r.timerMu.Lock()
		defer r.timerMu.Unlock()
		r.nextTimer++
		id := r.nextTimer
		r.arm(id, r.generation, fn, time.Duration(ms)*time.Millisecond, repeat)
		return starlark.MakeInt64(id), nil
	}
}

// arm starts the timer for id. Caller holds timerMu.
func (r *Runtime) arm(id int64, gen uint64, fn starlark.Callable, delay time.Duration, repeat bool) {
	r.timers[id] = time.AfterFunc(delay, func() {
		r.execMu.Lock()
		defer r.execMu.Unlock()

		r.timerMu.Lock()
		_, live := r.timers[id]
		if !live || gen != r.generation {
			r.timerMu.Unlock()
			return
		}
		if repeat {
			r.arm(id, gen, fn, delay, repeat)
		} else {
			delete(r.timers, id)
		}
		r.timerMu.Unlock()

		if _, err := starlark.Call(r.newThread("callback"), fn, nil, nil); err != nil {
			r.logger.Warn("scheduled callback failed",
				zap.Int64("timer", id),
				zap.String("error", scriptError(err)),
			)
		}
	})
}

func (r *Runtime) clearBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "id", &id); err != nil {
		return nil, err
	}
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if t, ok := r.timers[int64(id)]; ok {
		t.Stop()
		delete(r.timers, int64(id))
	}
	return starlark.None, nil
}

func (r *Runtime) cancelBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	r.HaltScheduled()
	return starlark.None, nil
}

func (r *Runtime) pendingBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.MakeInt(r.Pending()), nil
}

func (r *Runtime) logBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := starlark.AsString(a); ok {
			parts[i] = s
		} else {
			parts[i] = a.String()
		}
	}
	r.logger.Info(strings.Join(parts, " "), zap.String("source", "script"))
	return starlark.None, nil
}

func (r *Runtime) nowBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.Float(float64(time.Since(r.epoch)) / float64(time.Millisecond)), nil
}
