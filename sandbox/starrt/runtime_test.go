package starrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/livecoder/sandbox"
)

func newEngine(t *testing.T, opts ...Option) (*sandbox.Engine, *Runtime) {
	t.Helper()
	rt := New(opts...)
	t.Cleanup(func() { _ = rt.Close() })
	return sandbox.NewEngine(rt), rt
}

func TestExecuteAttachesContext(t *testing.T) {
	e, _ := newEngine(t)

	res := e.Execute(context.Background(), `
context["synth"] = struct(dispose = lambda: None)
context["tempo"] = 120
`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"synth", "tempo"}, e.Live())
}

func TestDisposerIsCalledOnReplace(t *testing.T) {
	e, _ := newEngine(t)

	res := e.Execute(context.Background(), `
disposed = []
def dispose():
    disposed.append(1)
context["synth"] = struct(dispose = dispose)
context["log"] = disposed
`)
	require.True(t, res.Success, res.Error)
	require.True(t, e.Execute(context.Background(), `context["next"] = 1`).Success)
	assert.Equal(t, []string{"next"}, e.Live())
}

func TestDisposeRunsScriptFunction(t *testing.T) {
	rt := New()
	t.Cleanup(func() { _ = rt.Close() })

	prog, err := rt.Compile(`
calls = []
def dispose():
    calls.append("dispose")
context["synth"] = struct(dispose = dispose)
context["calls"] = calls
`)
	require.NoError(t, err)
	sc := sandbox.Context{}
	require.NoError(t, prog.Run(context.Background(), sc))

	d, ok := sc["synth"].(sandbox.Disposer)
	require.True(t, ok)
	require.NoError(t, d.Dispose())
	assert.Equal(t, `["dispose"]`, sc["calls"].(interface{ String() string }).String())
}

func TestExecuteFailMessage(t *testing.T) {
	e, _ := newEngine(t)

	res := e.Execute(context.Background(), `fail("x is undefined")`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "x is undefined")
	assert.Empty(t, e.Live())
}

func TestExecuteUndefinedName(t *testing.T) {
	e, _ := newEngine(t)

	res := e.Execute(context.Background(), `x = y + 1`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "undefined: y")
}

func TestStepBudget(t *testing.T) {
	e, _ := newEngine(t, WithMaxSteps(1000))

	res := e.Execute(context.Background(), `
while True:
    pass
`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "too many steps")
}

func TestRunTimeoutCancelsThread(t *testing.T) {
	rt := New()
	t.Cleanup(func() { _ = rt.Close() })
	e := sandbox.NewEngine(rt, sandbox.WithConfig(sandbox.EngineConfig{RunTimeout: 50 * time.Millisecond}))

	res := e.Execute(context.Background(), `
while True:
    pass
`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "deadline exceeded")
}

func TestScheduledCallbacksHaltOnStop(t *testing.T) {
	e, rt := newEngine(t)

	res := e.Execute(context.Background(), `
ticks = []
def tick():
    ticks.append(1)
host.schedule_repeat(tick, 5)
host.schedule(tick, 60000)
context["ticks"] = ticks
`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, rt.Pending())

	e.Stop(context.Background())
	assert.Equal(t, 0, rt.Pending())
}

func TestClearTimer(t *testing.T) {
	e, rt := newEngine(t)

	res := e.Execute(context.Background(), `
id = host.schedule(lambda: None, 60000)
host.clear(id)
context["pending"] = host.pending()
`)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 0, rt.Pending())
}

func TestCompileError(t *testing.T) {
	rt := New()
	_, err := rt.Compile(`def (:`)
	assert.Error(t, err)
}

func TestActivateAfterClose(t *testing.T) {
	rt := New()
	require.NoError(t, rt.Close())
	assert.Error(t, rt.Activate(context.Background()))
}
