// Package jsrt is a JavaScript sandbox runtime backed by goja and a
// goja_nodejs event loop.
//
// All goja.Runtime access happens on the loop goroutine. Scripts are compiled
// as the body of function(<handle>, context) and run synchronously on the loop;
// anything they schedule runs later on the same loop until HaltScheduled
// clears it.
package jsrt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/sandbox"
)

// DefaultHandleName is the parameter name scripts use for the runtime handle.
const DefaultHandleName = "host"

// DefaultSyncTimeout bounds loop round trips other than script runs.
const DefaultSyncTimeout = 5 * time.Second

var errClosed = errors.New("javascript runtime is closed")

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for script log() and console output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithHandleName renames the runtime handle parameter (for example "Tone").
func WithHandleName(name string) Option {
	return func(r *Runtime) {
		if name != "" {
			r.handleName = name
		}
	}
}

// WithSyncTimeout bounds non-run round trips to the loop (0 waits forever).
func WithSyncTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.syncTimeout = d }
}

// WithModule registers a native module scripts can load with require(name).
func WithModule(name string, loader require.ModuleLoader) Option {
	return func(r *Runtime) { r.registry.RegisterNativeModule(name, loader) }
}

// Runtime implements sandbox.Runtime on a goja event loop.
type Runtime struct {
	loop        *eventloop.EventLoop
	registry    *require.Registry
	logger      *zap.Logger
	handleName  string
	syncTimeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
	epoch   time.Time
	vm      *goja.Runtime

	// Loop goroutine only.
	host      goja.Value
	timers    map[int64]*timer
	nextTimer int64
}

type timer struct {
	timeout  *eventloop.Timer
	interval *eventloop.Interval
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a runtime. The event loop is started lazily by Activate.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		registry:    require.NewRegistry(),
		logger:      zap.NewNop(),
		handleName:  DefaultHandleName,
		syncTimeout: DefaultSyncTimeout,
		done:        make(chan struct{}),
		timers:      make(map[int64]*timer),
	}
	for _, o := range opts {
		o(r)
	}
	r.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(r.registry),
		eventloop.EnableConsole(true),
	)
	return r
}

// Activate starts the event loop on first use and installs the host handle.
func (r *Runtime) Activate(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errClosed
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.loop.Start()
	r.started = true
	r.epoch = time.Now()
	r.mu.Unlock()

	// Install runs once per loop even if ctx is cancelled.
	err := r.runOnLoop(context.WithoutCancel(ctx), r.syncTimeout, func(vm *goja.Runtime) error {
		return r.install(vm)
	})
	if err != nil {
		return fmt.Errorf("installing host handle: %w", err)
	}
	r.logger.Debug("javascript runtime activated", zap.String("handle", r.handleName))
	return nil
}

// HaltScheduled clears every timeout and interval scripts have registered.
func (r *Runtime) HaltScheduled() {
	if !r.running() {
		return
	}
	err := r.runOnLoop(context.Background(), r.syncTimeout, func(*goja.Runtime) error {
		r.clearTimers()
		return nil
	})
	if err != nil {
		r.logger.Warn("halting scheduled work", zap.Error(err))
	}
}

// Compile parses script as the body of function(<handle>, context).
func (r *Runtime) Compile(script string) (sandbox.Program, error) {
	src := "(function(" + r.handleName + ", context) {\n" + script + "\n})"
	prg, err := goja.Compile("script.js", src, false)
	if err != nil {
		return nil, errors.New(scriptError(err))
	}
	return &program{rt: r, prg: prg}, nil
}

// Close halts scheduled work and stops the event loop. Safe to call twice.
func (r *Runtime) Close() error {
	r.HaltScheduled()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	close(r.done)
	r.mu.Unlock()

	if started {
		r.loop.Stop()
	}
	return nil
}

// Pending reports the number of live timers and intervals.
func (r *Runtime) Pending() int {
	var n atomic.Int64
	if !r.running() {
		return 0
	}
	_ = r.runOnLoop(context.Background(), r.syncTimeout, func(*goja.Runtime) error {
		n.Store(int64(len(r.timers)))
		return nil
	})
	return int(n.Load())
}

func (r *Runtime) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started && !r.closed
}

// Job states for runOnLoop.
const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

// runOnLoop runs fn on the loop goroutine and waits for it. A timeout of 0
// waits until fn returns or the runtime closes. When the wait gives up, the
// script holding the loop is interrupted and an fn that already started is
// waited for. A queued fn is dropped once ctx is done; after a plain timeout it
// stays queued and runs when the loop frees up.
func (r *Runtime) runOnLoop(ctx context.Context, timeout time.Duration, fn func(*goja.Runtime) error) error {
	if !r.running() {
		return errClosed
	}

	var state atomic.Int32
	errCh := make(chan error, 1)
	ok := r.loop.RunOnLoop(func(vm *goja.Runtime) {
		if !state.CompareAndSwap(jobQueued, jobStarted) {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("panic on event loop: %v", p)
			}
		}()
		// Nothing else is running on the loop now, so a pending interrupt is stale.
		vm.ClearInterrupt()
		errCh <- fn(vm)
	})
	if !ok {
		return errClosed
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	var reason error
	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return errClosed
	case <-ctx.Done():
		reason = ctx.Err()
		r.interrupt(reason)
		if state.CompareAndSwap(jobQueued, jobAbandoned) {
			return reason
		}
	case <-expired:
		reason = fmt.Errorf("event loop did not respond within %v", timeout)
		r.interrupt(reason)
		if state.Load() != jobStarted {
			return reason
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-r.done:
		return errClosed
	}
}

// interrupt breaks whatever script currently holds the loop. goja allows
// Interrupt from any goroutine.
func (r *Runtime) interrupt(reason error) {
	r.mu.Lock()
	vm := r.vm
	r.mu.Unlock()
	if vm != nil {
		vm.Interrupt(reason)
	}
}

type program struct {
	rt  *Runtime
	prg *goja.Program
}

// Run executes the compiled function on the loop. Cancelling ctx interrupts
// the VM.
func (p *program) Run(ctx context.Context, sc sandbox.Context) error {
	r := p.rt
	return r.runOnLoop(ctx, 0, func(vm *goja.Runtime) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
		defer stop()

		v, err := vm.RunProgram(p.prg)
		if err != nil {
			return errors.New(scriptError(err))
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			return errors.New("script did not compile to a function")
		}

		target := vm.NewObject()
		if _, err := fn(goja.Undefined(), r.host, target); err != nil {
			// Keep what was attached so the engine can dispose it.
			r.collect(target, sc)
			return errors.New(scriptError(err))
		}
		r.collect(target, sc)
		return nil
	})
}

func (r *Runtime) collect(target *goja.Object, sc sandbox.Context) {
	for _, k := range target.Keys() {
		sc[k] = r.wrap(target.Get(k))
	}
}

// wrap converts a context value. Objects with a dispose method become
// sandbox.Disposers that call back onto the loop.
func (r *Runtime) wrap(v goja.Value) any {
	obj, ok := v.(*goja.Object)
	if !ok {
		if v == nil {
			return nil
		}
		return v.Export()
	}
	if fn, ok := goja.AssertFunction(obj.Get("dispose")); ok {
		return &object{rt: r, obj: obj, dispose: fn}
	}
	return obj
}

type object struct {
	rt      *Runtime
	obj     *goja.Object
	dispose goja.Callable
}

func (o *object) Dispose() error {
	return o.rt.runOnLoop(context.Background(), o.rt.syncTimeout, func(*goja.Runtime) error {
		if _, err := o.dispose(o.obj); err != nil {
			return errors.New(scriptError(err))
		}
		return nil
	})
}

// scriptError returns the message a script author would see: the thrown
// Error's message, or the thrown value itself.
func scriptError(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return ex.Value().String()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if v, ok := interrupted.Value().(error); ok {
			return "script interrupted: " + v.Error()
		}
		return "script interrupted"
	}
	return err.Error()
}

func (r *Runtime) logArgs(call goja.FunctionCall) {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	r.logger.Info(strings.Join(parts, " "), zap.String("source", "script"))
}
