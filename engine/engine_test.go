package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
	"github.com/jxucoder/livecoder/sandbox"
	"github.com/jxucoder/livecoder/sandbox/starrt"
	"github.com/jxucoder/livecoder/state"
	sqliteStore "github.com/jxucoder/livecoder/store/sqlite"
)

// --- stubs ---

// throwingRuntime fails every run with a fixed error.
type throwingRuntime struct{ msg string }

func (r throwingRuntime) Activate(context.Context) error { return nil }
func (r throwingRuntime) HaltScheduled()                 {}
func (r throwingRuntime) Compile(string) (sandbox.Program, error) {
	return throwingProgram(r), nil
}

type throwingProgram struct{ msg string }

func (p throwingProgram) Run(context.Context, sandbox.Context) error { return errors.New(p.msg) }

// scriptedLLM returns the queued responses in order.
type scriptedLLM struct {
	responses []*llm.Response
	requests  []llm.Request
	err       error
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.Response{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

func newTestEngine(t *testing.T, rt sandbox.Runtime, client llm.Client) *Engine {
	t.Helper()
	journal, err := sqliteStore.NewMemory()
	require.NoError(t, err)
	e := New(Config{}, rt, client, journal)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func lastMessage(st model.AppState) model.ChatMessage {
	return st.Messages[len(st.Messages)-1]
}

func TestSeedScenario(t *testing.T) {
	e := newTestEngine(t, throwingRuntime{msg: "x is undefined"}, nil)
	require.Len(t, e.State().Messages, 1)

	res := e.Dispatch(context.Background(), action.UpdateCode, map[string]any{"code": "a=1"})
	require.True(t, res.Success)
	assert.Equal(t, "a=1", e.State().Script)

	res = e.Dispatch(context.Background(), action.ExecuteCode, nil)
	assert.False(t, res.Success)
	assert.Equal(t, "x is undefined", res.Error)

	st := e.State()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsExecuting)
	require.Len(t, st.ExecutionHistory, 1)
	assert.False(t, st.ExecutionHistory[0].Success)
	assert.Equal(t, "x is undefined", st.ExecutionHistory[0].Error)
	assert.Equal(t, "a=1", st.ExecutionHistory[0].Script)
	assert.Equal(t, model.RoleAssistant, lastMessage(st).Role)
	assert.Contains(t, lastMessage(st).Content, "x is undefined")
}

func TestSeedScenarioThroughChat(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{{Segments: []llm.Segment{
		llm.ToolCall(action.UpdateCode, map[string]any{"code": "a=1"}),
	}}, {Segments: []llm.Segment{
		llm.TextSegment("Running it now."),
		llm.ToolCall(action.ExecuteCode, map[string]any{}),
	}}}}
	e := newTestEngine(t, throwingRuntime{msg: "x is undefined"}, client)

	reply := e.SendMessage(context.Background(), "set a to one")
	assert.True(t, reply.Success)
	assert.True(t, reply.CodeUpdated)
	assert.Equal(t, "Code updated successfully", reply.Message)
	assert.Equal(t, "a=1", e.State().Script)

	reply = e.SendMessage(context.Background(), "play it")
	assert.True(t, reply.Success)
	assert.False(t, reply.CodeUpdated)
	assert.Contains(t, reply.Message, `Action "execute_code" failed: x is undefined`)

	st := e.State()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsAwaitingAssistant)
	require.Len(t, st.ExecutionHistory, 1)
	assert.Equal(t, "x is undefined", st.ExecutionHistory[0].Error)

	// seed, user, assistant, user, run failure, assistant reply
	require.Len(t, st.Messages, 6)
	assert.Equal(t, "play it", st.Messages[3].Content)
	assert.Contains(t, st.Messages[4].Content, "x is undefined")
	assert.Equal(t, reply.Message, st.Messages[5].Content)
}

func TestSendMessagePromptSeesPriorState(t *testing.T) {
	client := &scriptedLLM{}
	e := newTestEngine(t, nil, client)
	e.SetScript("tempo = 90")

	e.SendMessage(context.Background(), "first question")

	require.Len(t, client.requests, 1)
	assert.Equal(t, "first question", client.requests[0].User)
	assert.Contains(t, client.requests[0].System, "tempo = 90")
	assert.NotContains(t, client.requests[0].System, "user: first question")
}

func TestSendMessageWithoutKey(t *testing.T) {
	e := newTestEngine(t, nil, nil)

	reply := e.SendMessage(context.Background(), "hello")
	assert.False(t, reply.Success)
	assert.Equal(t, "API key not configured", reply.Error)
	assert.False(t, e.ChatConfigured())

	st := e.State()
	assert.False(t, st.IsAwaitingAssistant)
	require.Len(t, st.Messages, 3)
	assert.Equal(t, "hello", st.Messages[1].Content)
	assert.Contains(t, st.Messages[2].Content, "API key not configured")
}

func TestSendMessageTransportError(t *testing.T) {
	client := &scriptedLLM{err: fmt.Errorf("%w: connection refused", model.ErrTransport)}
	e := newTestEngine(t, nil, client)
	e.SetScript("keep me")

	reply := e.SendMessage(context.Background(), "hi")
	assert.False(t, reply.Success)
	assert.Equal(t, "connection refused", reply.Error)
	assert.Equal(t, "keep me", e.State().Script)
}

func TestRunWithStarlarkRuntime(t *testing.T) {
	rt := starrt.New()
	e := newTestEngine(t, rt, nil)
	e.SetScript(`context["synth"] = struct(dispose = lambda: None)`)

	rec := e.Run(context.Background())
	require.True(t, rec.Success, rec.Error)
	assert.True(t, e.State().IsRunning)
	assert.Equal(t, []string{"synth"}, e.Live())

	e.Stop(context.Background())
	assert.False(t, e.State().IsRunning)
	assert.Empty(t, e.Live())
}

func TestRunWithoutRuntime(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	rec := e.Run(context.Background())
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "not configured")
}

func TestJournalRecordsEvictedHistory(t *testing.T) {
	journal, err := sqliteStore.NewMemory()
	require.NoError(t, err)
	e := New(Config{State: state.Config{MaxMessages: 3}}, nil, nil, journal)
	defer e.Close(context.Background())

	for i := 0; i < 5; i++ {
		e.state.AddMessage(model.RoleUser, fmt.Sprintf("msg %d", i))
	}
	assert.Len(t, e.State().Messages, 3)

	events, err := e.Events(context.Background(), 0, 100)
	require.NoError(t, err)
	var contents []string
	for _, ev := range events {
		require.Equal(t, model.EventMessage, ev.Type)
		var m model.ChatMessage
		require.NoError(t, json.Unmarshal(ev.Data, &m))
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"msg 0", "msg 1", "msg 2", "msg 3", "msg 4"}, contents)
}

func TestJournalRecordsActions(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.Dispatch(context.Background(), action.AddCodeBlock, map[string]any{"codeBlock": "X"})

	events, err := e.Events(context.Background(), 0, 0)
	require.NoError(t, err)

	var types []model.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []model.EventType{model.EventScript, model.EventAction}, types)

	var ae actionEvent
	require.NoError(t, json.Unmarshal(events[1].Data, &ae))
	assert.Equal(t, action.AddCodeBlock, ae.Action)
	assert.True(t, ae.Result.Success)
}

func TestEventsWithoutJournal(t *testing.T) {
	e := New(Config{}, nil, nil, nil)
	events, err := e.Events(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NoError(t, e.Close(context.Background()))
}

func TestClearMessages(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	e.SendMessage(context.Background(), "hi")
	e.ClearMessages()
	assert.Len(t, e.State().Messages, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))
}
