// Package livecoder is the top-level entry point for a live-coding session
// server.
//
// Use the Builder to compose an application:
//
//	app, err := livecoder.NewBuilder().Build(ctx)
//	app.Start(ctx)
//
// Or supply any component yourself:
//
//	app, err := livecoder.NewBuilder().
//	    WithConfig(cfg).
//	    WithRuntime(starrt.New()).
//	    WithLLM(myClient).
//	    Build(ctx)
package livecoder

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	mcpChannel "github.com/jxucoder/livecoder/channel/mcp"
	"github.com/jxucoder/livecoder/engine"
	"github.com/jxucoder/livecoder/httpapi"
	"github.com/jxucoder/livecoder/internal/config"
	"github.com/jxucoder/livecoder/llm"
	"github.com/jxucoder/livecoder/sandbox"
	"github.com/jxucoder/livecoder/store"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Builder constructs an App.
type Builder struct {
	config  *config.Config
	runtime sandbox.Runtime
	llm     llm.Client
	journal store.Journal
	logger  *zap.Logger
}

// NewBuilder creates a new Builder. Missing components are filled in by Build.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithRuntime sets the script runtime.
func (b *Builder) WithRuntime(rt sandbox.Runtime) *Builder {
	b.runtime = rt
	return b
}

// WithLLM sets the chat model client.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithJournal sets the session journal.
func (b *Builder) WithJournal(j store.Journal) *Builder {
	b.journal = j
	return b
}

// WithLogger sets the application logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	if err := applyDefaults(ctx, b); err != nil {
		return nil, err
	}

	timeout, err := b.config.RunTimeout()
	if err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{
			State: sessionConfig(b.config),
			Sandbox: sandbox.EngineConfig{
				RunTimeout: timeout,
			},
		},
		b.runtime,
		b.llm,
		b.journal,
		engine.WithLogger(b.logger),
		engine.WithOrchestratorOptions(orchestratorOptions(b.config)...),
	)

	return &App{
		config:  b.config,
		logger:  b.logger,
		engine:  eng,
		runtime: b.runtime,
		handler: httpapi.New(eng, httpapi.WithLogger(b.logger.Named("http"))),
	}, nil
}

// App is a running livecoder application.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	engine  *engine.Engine
	runtime sandbox.Runtime
	handler *httpapi.Handler
}

// Engine returns the underlying session engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler.Router() }

// Start serves the HTTP API until ctx is done.
func (a *App) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.ServerAddr,
		Handler:           a.handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	a.logger.Info("livecoder server listening", zap.String("addr", a.config.ServerAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeMCP serves the action vocabulary over MCP on stdio until ctx is done or
// the client disconnects.
func (a *App) ServeMCP(ctx context.Context, opts ...mcpChannel.Option) error {
	opts = append([]mcpChannel.Option{mcpChannel.WithLogger(a.logger.Named("mcp"))}, opts...)
	return mcpChannel.New(a.engine, Version, opts...).Run(ctx)
}

// Close stops playback, closes the journal and releases the runtime.
func (a *App) Close(ctx context.Context) error {
	err := a.engine.Close(ctx)
	if c, ok := a.runtime.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
