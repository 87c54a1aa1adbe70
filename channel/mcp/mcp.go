// Package mcp exposes a session's action vocabulary as Model Context Protocol
// tools, so any MCP client can drive the same actions the chat assistant uses.
//
// Each tool dispatches through the session and returns the action result as
// JSON text content, flagged IsError when the action failed. The channel
// serves over stdio:
//
//	livecoder serve --mcp
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/action"
	"github.com/jxucoder/livecoder/model"
)

// Dispatcher is the part of the session the channel drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) model.ActionResult
}

type updateCodeInput struct {
	Code        string `json:"code" jsonschema:"the complete new script"`
	Explanation string `json:"explanation,omitempty" jsonschema:"what changed"`
}

type modifyCodeSectionInput struct {
	TargetSection string  `json:"targetSection" jsonschema:"exact text to replace"`
	NewSection    *string `json:"newSection" jsonschema:"replacement text; empty deletes the target"`
	Explanation   string  `json:"explanation,omitempty" jsonschema:"what changed"`
}

type addCodeBlockInput struct {
	CodeBlock   string `json:"codeBlock" jsonschema:"the code to add"`
	Position    string `json:"position,omitempty" jsonschema:"before or after or replace (default after)"`
	Explanation string `json:"explanation,omitempty" jsonschema:"what was added"`
}

type noInput struct{}

// Channel serves the vocabulary over MCP.
type Channel struct {
	session   Dispatcher
	server    *mcp.Server
	transport mcp.Transport
	logger    *zap.Logger
}

// Option configures the channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithTransport replaces the default stdio transport.
func WithTransport(t mcp.Transport) Option {
	return func(c *Channel) { c.transport = t }
}

// New creates an MCP channel for the given session.
func New(session Dispatcher, version string, opts ...Option) *Channel {
	c := &Channel{
		session:   session,
		transport: &mcp.StdioTransport{},
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}

	c.server = mcp.NewServer(&mcp.Implementation{Name: "livecoder", Version: version}, nil)

	mcp.AddTool(c.server, c.tool(action.UpdateCode), func(ctx context.Context, _ *mcp.CallToolRequest, in updateCodeInput) (*mcp.CallToolResult, any, error) {
		return c.call(ctx, action.UpdateCode, map[string]any{
			"code":        in.Code,
			"explanation": in.Explanation,
		})
	})
	mcp.AddTool(c.server, c.tool(action.ModifyCodeSection), func(ctx context.Context, _ *mcp.CallToolRequest, in modifyCodeSectionInput) (*mcp.CallToolResult, any, error) {
		params := map[string]any{
			"targetSection": in.TargetSection,
			"explanation":   in.Explanation,
		}
		if in.NewSection != nil {
			params["newSection"] = *in.NewSection
		}
		return c.call(ctx, action.ModifyCodeSection, params)
	})
	mcp.AddTool(c.server, c.tool(action.AddCodeBlock), func(ctx context.Context, _ *mcp.CallToolRequest, in addCodeBlockInput) (*mcp.CallToolResult, any, error) {
		return c.call(ctx, action.AddCodeBlock, map[string]any{
			"codeBlock":   in.CodeBlock,
			"position":    in.Position,
			"explanation": in.Explanation,
		})
	})
	for _, name := range []string{action.ExecuteCode, action.StopAudio, action.GetCurrentState} {
		mcp.AddTool(c.server, c.tool(name), func(ctx context.Context, _ *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
			return c.call(ctx, name, nil)
		})
	}

	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return "mcp" }

// Server returns the underlying MCP server.
func (c *Channel) Server() *mcp.Server { return c.server }

// Run serves until ctx is done or the client disconnects.
func (c *Channel) Run(ctx context.Context) error {
	c.logger.Info("mcp channel serving")
	if err := c.server.Run(ctx, c.transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (c *Channel) tool(name string) *mcp.Tool {
	d, ok := action.Describe(name)
	if !ok {
		panic("mcp: no descriptor for " + name)
	}
	return &mcp.Tool{Name: d.Name, Description: d.Description}
}

// call dispatches and renders the result. Action failures are tool errors,
// not protocol errors.
func (c *Channel) call(ctx context.Context, name string, params map[string]any) (*mcp.CallToolResult, any, error) {
	res := c.session.Dispatch(ctx, name, params)
	if !res.Success {
		c.logger.Debug("tool call failed", zap.String("tool", name), zap.String("error", res.Error))
	}

	text, err := json.Marshal(res)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %s result: %w", name, err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		IsError: !res.Success,
	}, nil, nil
}
