// Package anthropic implements llm.Client using the Anthropic Messages API
// with tool use.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.anthropic.com"

const apiVersion = "2023-06-01"

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// Client implements llm.Client.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ llm.Client = (*Client)(nil)

// New creates a client. Model defaults to DefaultModel if empty.
func New(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type response struct {
	Model   string `json:"model"`
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
}

// Complete sends req and returns its content blocks as segments.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := request{
		Model:     c.model,
		MaxTokens: req.MaxTokensOrDefault(),
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.User}},
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: llm.InputSchema(d),
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", model.ErrTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", model.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", model.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: anthropic API error (%d): %s", model.ErrTransport, resp.StatusCode, string(respBody))
	}

	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", model.ErrTransport, err)
	}

	out := &llm.Response{Model: result.Model}
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			out.Segments = append(out.Segments, llm.TextSegment(block.Text))
		case "tool_use":
			out.Segments = append(out.Segments, llm.ToolCall(block.Name, block.Input))
		}
	}
	return out, nil
}
