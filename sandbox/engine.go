package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/model"
)

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// RunTimeout bounds a single program run (0 = no limit). Runtimes that
	// support it interrupt the script when the deadline passes.
	RunTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithConfig sets the engine configuration.
func WithConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.config = cfg }
}

// Engine runs scripts against a fresh Context and owns the live generation.
// Replacing a generation is always dispose-then-create.
type Engine struct {
	rt     Runtime
	config EngineConfig
	logger *zap.Logger

	mu         sync.Mutex
	current    Context
	generation uint64
}

// NewEngine creates an engine around rt.
func NewEngine(rt Runtime, opts ...EngineOption) *Engine {
	e := &Engine{
		rt:      rt,
		logger:  zap.NewNop(),
		current: Context{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute activates the runtime, halts scheduled work, disposes the current
// context, then compiles and runs script against an empty context. On success
// the populated context becomes the live generation; on failure the engine is
// left with an empty context.
func (e *Engine) Execute(ctx context.Context, script string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rt == nil {
		err := fmt.Errorf("%w: script runtime is not set", model.ErrNotConfigured)
		return Result{Success: false, Error: err.Error(), Generation: e.generation}
	}

	if err := e.rt.Activate(ctx); err != nil {
		e.logger.Warn("runtime activation failed", zap.Error(err))
		e.resetLocked()
		return Result{Success: false, Error: fmt.Sprintf("activating runtime: %v", err), Generation: e.generation}
	}

	e.resetLocked()

	fresh := Context{}
	if err := e.runLocked(ctx, script, fresh); err != nil {
		// Anything the failed attempt managed to attach is released too.
		e.disposeContext(fresh)
		e.rt.HaltScheduled()
		return Result{Success: false, Error: errorMessage(err), Generation: e.generation}
	}

	e.generation++
	e.current = fresh
	e.logger.Debug("sandbox generation started",
		zap.Uint64("generation", e.generation),
		zap.Strings("objects", keys(fresh)),
	)
	return Result{Success: true, Generation: e.generation, Objects: len(fresh)}
}

// Stop halts scheduled work and disposes the live context. It never fails;
// disposal errors are logged and the context is cleared regardless.
func (e *Engine) Stop(_ context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rt == nil {
		e.current = Context{}
		return
	}
	e.resetLocked()
}

// Generation returns the number of successful executions so far.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Live returns the sorted names of objects in the live context.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return keys(e.current)
}

func (e *Engine) resetLocked() {
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn("halting scheduled work panicked", zap.Any("panic", r))
			}
		}()
		e.rt.HaltScheduled()
	}()
	e.disposeContext(e.current)
	e.current = Context{}
}

func (e *Engine) runLocked(ctx context.Context, script string, sc Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: script panicked: %v", model.ErrExecution, r)
		}
	}()

	prog, err := e.rt.Compile(script)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrExecution, err)
	}

	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}
	if err := prog.Run(ctx, sc); err != nil {
		return fmt.Errorf("%w: %w", model.ErrExecution, err)
	}
	return nil
}

func (e *Engine) disposeContext(sc Context) {
	for _, name := range keys(sc) {
		d, ok := sc[name].(Disposer)
		if !ok {
			continue
		}
		if err := safeDispose(d); err != nil {
			e.logger.Warn("disposing sandbox object", zap.String("name", name), zap.Error(err))
		}
	}
	clear(sc)
}

func safeDispose(d Disposer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose panicked: %v", r)
		}
	}()
	return d.Dispose()
}

// errorMessage strips the taxonomy prefix so the user sees the script's own
// error text.
func errorMessage(err error) string {
	for {
		u, ok := err.(interface{ Unwrap() []error })
		if !ok {
			break
		}
		errs := u.Unwrap()
		if len(errs) != 2 || !errors.Is(errs[0], model.ErrExecution) {
			break
		}
		err = errs[1]
	}
	return err.Error()
}

func keys(sc Context) []string {
	out := make([]string, 0, len(sc))
	for k := range sc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
