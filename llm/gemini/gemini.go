// Package gemini implements llm.Client on the Gemini API via
// google.golang.org/genai function calling.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Client implements llm.Client.
type Client struct {
	client *genai.Client
	model  string
}

var _ llm.Client = (*Client)(nil)

// New creates a Gemini client. baseURL may be empty for the public endpoint.
func New(ctx context.Context, apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Complete sends req with the vocabulary as function declarations.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokensOrDefault()),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations(req.Tools)}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)},
		config,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini generate failed: %w", model.ErrTransport, err)
	}
	out, err := responseFrom(resp)
	if err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}

func declarations(tools []model.ActionDescriptor) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, d := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(d.Parameters)),
		}
		for _, name := range llm.ParamNames(d) {
			p := d.Parameters[name]
			schema.Properties[name] = &genai.Schema{
				Type:        schemaType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				schema.Required = append(schema.Required, name)
			}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

// responseFrom converts the first candidate's parts into ordered segments.
// Thought parts are skipped.
func responseFrom(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: no candidates in response", model.ErrTransport)
	}
	out := &llm.Response{Model: resp.ModelVersion}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil || part.Thought:
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Segments = append(out.Segments, llm.ToolCall(part.FunctionCall.Name, args))
		case part.Text != "":
			out.Segments = append(out.Segments, llm.TextSegment(part.Text))
		}
	}
	return out, nil
}
