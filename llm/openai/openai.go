// Package openai implements llm.Client using the OpenAI Chat Completions API
// with function tools.
package openai

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
const DefaultModel = "gpt-4o"

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.openai.com"

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

type function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type tool struct {
	Type     string   `json:"type"`
	Function function `json:"function"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
	Tools     []tool    `json:"tools,omitempty"`
}

type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends req. The message text, if any, is the first segment; tool
// calls follow in the order returned.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := request{
		Model:     c.model,
		MaxTokens: req.MaxTokensOrDefault(),
		Messages: []message{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: function{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  llm.InputSchema(d),
			},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", model.ErrTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", model.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
		return nil, fmt.Errorf("%w: openai API error (%d): %s", model.ErrTransport, resp.StatusCode, string(respBody))
	}

	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %w", model.ErrTransport, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", model.ErrTransport)
	}

	msg := result.Choices[0].Message
	out := &llm.Response{Model: result.Model}
	if msg.Content != nil && *msg.Content != "" {
		out.Segments = append(out.Segments, llm.TextSegment(*msg.Content))
	}
	for _, call := range msg.ToolCalls {
		input := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("%w: parsing arguments of %s: %w", model.ErrTransport, call.Function.Name, err)
			}
		}
		out.Segments = append(out.Segments, llm.ToolCall(call.Function.Name, input))
	}
	return out, nil
}
