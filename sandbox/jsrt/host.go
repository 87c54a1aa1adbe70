package jsrt

import (
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// install builds the host handle and replaces the loop's timer globals with
// tracked versions. Runs on the loop goroutine.
func (r *Runtime) install(vm *goja.Runtime) error {
	transport := vm.NewObject()
	schedule := func(call goja.FunctionCall) goja.Value { return r.schedule(vm, call, false) }
	repeat := func(call goja.FunctionCall) goja.Value { return r.schedule(vm, call, true) }
	clearOne := func(call goja.FunctionCall) goja.Value {
		r.clearTimer(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	for name, fn := range map[string]any{
		"schedule":       schedule,
		"scheduleRepeat": repeat,
		"clear":          clearOne,
		"cancel": func(goja.FunctionCall) goja.Value {
			r.clearTimers()
			return goja.Undefined()
		},
		"pending": func(goja.FunctionCall) goja.Value { return vm.ToValue(len(r.timers)) },
	} {
		if err := transport.Set(name, fn); err != nil {
			return err
		}
	}

	host := vm.NewObject()
	if err := host.Set("transport", transport); err != nil {
		return err
	}
	if err := host.Set("log", func(call goja.FunctionCall) goja.Value {
		r.logArgs(call)
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := host.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(float64(time.Since(r.epoch)) / float64(time.Millisecond))
	}); err != nil {
		return err
	}
	r.host = host
	r.mu.Lock()
	r.vm = vm
	r.mu.Unlock()

	for name, fn := range map[string]any{
		"setTimeout":    schedule,
		"setInterval":   repeat,
		"clearTimeout":  clearOne,
		"clearInterval": clearOne,
	} {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.Set(r.handleName, host)
}

// schedule registers fn(args...) after delay ms, repeating if asked. Runs on
// the loop goroutine.
func (r *Runtime) schedule(vm *goja.Runtime, call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.NewTypeError("callback must be a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.nextTimer++
	id := r.nextTimer
	fire := func(*goja.Runtime) {
		if _, live := r.timers[id]; !live {
			return
		}
		if !repeat {
			delete(r.timers, id)
		}
		vm.ClearInterrupt()
		if _, err := fn(goja.Undefined(), args...); err != nil {
			r.logger.Warn("scheduled callback failed",
				zap.Int64("timer", id),
				zap.String("error", scriptError(err)),
			)
		}
	}

	t := &timer{}
	if repeat {
		t.interval = r.loop.SetInterval(fire, delay)
	} else {
		t.timeout = r.loop.SetTimeout(fire, delay)
	}
	r.timers[id] = t
	return vm.ToValue(id)
}

func (r *Runtime) clearTimer(id int64) {
	t, ok := r.timers[id]
	if !ok {
		return
	}
	delete(r.timers, id)
	t.stop(r)
}

func (r *Runtime) clearTimers() {
	for id, t := range r.timers {
		delete(r.timers, id)
		t.stop(r)
	}
}

func (t *timer) stop(r *Runtime) {
	if t.timeout != nil {
		r.loop.ClearTimeout(t.timeout)
	}
	if t.interval != nil {
		r.loop.ClearInterval(t.interval)
	}
}
