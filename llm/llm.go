// Package llm defines the provider-neutral chat-completion contract the
// orchestrator uses: one system prompt, one user message, the action
// vocabulary as tools, and a response made of ordered text and tool-call
// segments.
package llm

import (
	"context"
	"sort"

	"github.com/jxucoder/livecoder/model"
)

// DefaultMaxTokens is the completion budget when a request leaves it unset.
const DefaultMaxTokens = 4096

// SegmentType distinguishes response segments.
type SegmentType string

const (
	SegmentText     SegmentType = "text"
	SegmentToolCall SegmentType = "tool_call"
)

// Segment is one piece of a response, in the order the model produced it.
type Segment struct {
	Type  SegmentType    `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// TextSegment builds a text segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// ToolCall builds a tool-call segment.
func ToolCall(name string, input map[string]any) Segment {
	return Segment{Type: SegmentToolCall, Name: name, Input: input}
}

// Request is a single-turn completion request.
type Request struct {
	System    string
	User      string
	Tools     []model.ActionDescriptor
	MaxTokens int
}

// Response is the parsed completion.
type Response struct {
	Model    string
	Segments []Segment
}

// Client is a chat-completion provider. Implementations wrap failures with
// model.ErrTransport.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// InputSchema renders an action's parameters as a JSON Schema object.
func InputSchema(d model.ActionDescriptor) map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, name := range ParamNames(d) {
		p := d.Parameters[name]
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ParamNames returns d's parameter names sorted.
func ParamNames(d model.ActionDescriptor) []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxTokensOrDefault returns r.MaxTokens or the default.
func (r Request) MaxTokensOrDefault() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}
