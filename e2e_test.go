// End-to-end tests for the livecoder server stack.
//
// These exercise the full stack:
//   - Real HTTP router (chi) behind httptest.Server
//   - Real JavaScript sandbox (goja event loop)
//   - Real in-memory SQLite journal
//   - Scripted LLM (deterministic tool calls)
//
// Only the model is simulated. Does NOT require API keys or network access.
package livecoder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/livecoder"
	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/internal/config"
	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
)

// scriptedLLM replays one response per chat turn.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return &llm.Response{Model: "scripted"}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
	app *livecoder.App
}

func newTestServer(t *testing.T, client llm.Client) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Sandbox.RunTimeout = "2s"

	app, err := livecoder.NewBuilder().
		WithConfig(cfg).
		WithLLM(client).
		Build(context.Background())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close(context.Background())
	})
	return &testServer{t: t, srv: srv, app: app}
}

func (s *testServer) do(method, path string, in, out any) int {
	s.t.Helper()
	var body bytes.Buffer
	if in != nil {
		require.NoError(s.t, json.NewEncoder(&body).Encode(in))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &body)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) state() model.AppState {
	var st model.AppState
	require.Equal(s.t, http.StatusOK, s.do(http.MethodGet, "/api/state", nil, &st))
	return st
}

func TestE2EUpdateThenFailingRun(t *testing.T) {
	s := newTestServer(t, nil)

	var res model.ActionResult
	s.do(http.MethodPost, "/api/actions/update_code", map[string]any{"code": "a = 1; x.start();"}, &res)
	require.True(t, res.Success)
	assert.Equal(t, "Code updated successfully", res.Message)

	s.do(http.MethodPost, "/api/actions/execute_code", nil, &res)
	assert.False(t, res.Success)
	assert.Equal(t, "Error executing code", res.Message)
	assert.Contains(t, res.Error, "x is not defined")

	st := s.state()
	assert.False(t, st.IsRunning)
	assert.False(t, st.IsExecuting)
	require.Len(t, st.ExecutionHistory, 1)
	assert.False(t, st.ExecutionHistory[0].Success)
	assert.Equal(t, "a = 1; x.start();", st.ExecutionHistory[0].Script)
	assert.Contains(t, st.ExecutionHistory[0].Error, "x is not defined")

	last := st.Messages[len(st.Messages)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "x is not defined")
}

func TestE2ESessionStartsWithRunnableStarter(t *testing.T) {
	s := newTestServer(t, nil)

	st := s.state()
	assert.Equal(t, config.Default().StarterScript(), st.Script)
	assert.Contains(t, st.Script, "Tone.transport.scheduleRepeat")

	var rec model.ExecutionRecord
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/run", nil, &rec))
	require.True(t, rec.Success, rec.Error)
	assert.Equal(t, []string{"pulse"}, s.app.Engine().Live())

	s.do(http.MethodPost, "/api/stop", nil, nil)
	assert.Empty(t, s.app.Engine().Live())
}

func TestStarlarkSessionStartsWithRunnableStarter(t *testing.T) {
	cfg := config.Default()
	cfg.Sandbox.Runtime = config.RuntimeStarlark
	app, err := livecoder.NewBuilder().WithConfig(cfg).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	eng := app.Engine()
	assert.Equal(t, cfg.StarterScript(), eng.State().Script)
	rec := eng.Run(context.Background())
	require.True(t, rec.Success, rec.Error)
	assert.Equal(t, []string{"pulse"}, eng.Live())
	eng.Stop(context.Background())
	assert.Empty(t, eng.Live())
}

func TestE2EChatDrivesSandbox(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.Response{
		{Model: "scripted", Segments: []llm.Segment{
			llm.TextSegment("Here's a pulse."),
			llm.ToolCall(action.UpdateCode, map[string]any{
				"code": `context.synth = { dispose: function() {} };
Tone.transport.scheduleRepeat(function() {}, 10);`,
			}),
			llm.ToolCall(action.ExecuteCode, map[string]any{}),
		}},
		{Model: "scripted", Segments: []llm.Segment{
			llm.ToolCall(action.StopAudio, map[string]any{}),
		}},
	}}
	s := newTestServer(t, client)

	var reply model.ChatReply
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/messages", map[string]string{"content": "give me a pulse"}, &reply))
	require.True(t, reply.Success, reply.Error)
	assert.True(t, reply.CodeUpdated)
	assert.Equal(t, "Here's a pulse.", reply.Message)
	require.Len(t, reply.ActionsExecuted, 2)
	assert.True(t, reply.ActionsExecuted[1].Result.Success, reply.ActionsExecuted[1].Result.Error)

	st := s.state()
	assert.True(t, st.IsRunning)
	assert.Equal(t, []string{"synth"}, s.app.Engine().Live())

	s.do(http.MethodPost, "/api/messages", map[string]string{"content": "stop"}, &reply)
	assert.True(t, reply.Success)
	assert.Equal(t, "Audio stopped successfully", reply.Message)
	assert.False(t, s.state().IsRunning)
	assert.Empty(t, s.app.Engine().Live())

	// The second prompt saw the first turn.
	require.Len(t, client.requests, 2)
	assert.Contains(t, client.requests[1].System, "Audio playing: Yes")
	assert.Contains(t, client.requests[1].System, "give me a pulse")
}

func TestE2ERunTimeoutInterruptsScript(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(http.MethodPut, "/api/script", map[string]string{"script": "while (true) {}"}, nil)

	start := time.Now()
	var rec model.ExecutionRecord
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/run", nil, &rec))
	assert.False(t, rec.Success)
	assert.Less(t, time.Since(start), 10*time.Second)

	// The sandbox is usable again afterwards.
	s.do(http.MethodPut, "/api/script", map[string]string{"script": "context.ok = true;"}, nil)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/run", nil, &rec))
	assert.True(t, rec.Success, rec.Error)
}

func TestE2EJournalKeepsEvictedMessages(t *testing.T) {
	s := newTestServer(t, &scriptedLLM{})

	for i := 0; i < 15; i++ {
		s.do(http.MethodPost, "/api/messages", map[string]string{"content": "hello"}, nil)
	}
	st := s.state()
	assert.Len(t, st.Messages, config.Default().Session.MaxMessages)

	var events []model.Event
	s.do(http.MethodGet, "/api/events?limit=1000", nil, &events)
	messages := 0
	for _, e := range events {
		if e.Type == model.EventMessage {
			messages++
		}
	}
	assert.Equal(t, 30, messages, "every user and assistant message is journaled")
}
