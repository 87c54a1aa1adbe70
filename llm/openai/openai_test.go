package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
)

func TestCompleteTextThenToolCalls(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {
				"content": "Running it.",
				"tool_calls": [
					{"id": "c1", "type": "function", "function": {"name": "execute_code", "arguments": ""}},
					{"id": "c2", "type": "function", "function": {"name": "add_code_block", "arguments": "{\"codeBlock\":\"X\",\"position\":\"before\"}"}}
				]
			}}]
		}`))
	}))
	defer srv.Close()

	c := New("sk-test", "", WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), llm.Request{
		System: "sys",
		User:   "go",
		Tools:  []model.ActionDescriptor{{Name: "execute_code", Parameters: map[string]model.ParamSpec{}}},
	})
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "execute_code", got.Tools[0].Function.Name)

	assert.Equal(t, "gpt-test", resp.Model)
	assert.Equal(t, []llm.Segment{
		llm.TextSegment("Running it."),
		llm.ToolCall("execute_code", map[string]any{}),
		llm.ToolCall("add_code_block", map[string]any{"codeBlock": "X", "position": "before"}),
	}, resp.Segments)
}

func TestCompleteNullContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": null, "tool_calls": [
			{"function": {"name": "stop_audio", "arguments": "{}"}}
		]}}]}`))
	}))
	defer srv.Close()

	resp, err := New("k", "m", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{User: "stop"})
	require.NoError(t, err)
	assert.Equal(t, []llm.Segment{llm.ToolCall("stop_audio", map[string]any{})}, resp.Segments)
}

func TestCompleteErrors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusUnauthorized)
		},
		"no choices": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": []}`))
		},
		"bad arguments": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices": [{"message": {"tool_calls": [{"function": {"name": "x", "arguments": "{"}}]}}]}`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := New("k", "m", WithBaseURL(srv.URL)).Complete(context.Background(), llm.Request{User: "hi"})
			assert.ErrorIs(t, err, model.ErrTransport)
		})
	}
}

func TestCompleteBadBaseURL(t *testing.T) {
	_, err := New("k", "m", WithBaseURL("http://bad\x7fhost")).Complete(context.Background(), llm.Request{User: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Contains(t, err.Error(), "building request")
}
