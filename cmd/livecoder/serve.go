package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/livecoder"
	"github.com/jxucoder/livecoder/internal/config"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the livecoder server",
	Long: `Start the HTTP API for one live-coding session. With --mcp the same
session's actions are also served over MCP on stdin/stdout.

Configuration comes from ~/.livecoder/config.yaml (or --config), then
LIVECODER_* environment variables. Chat needs ANTHROPIC_API_KEY,
OPENAI_API_KEY or GEMINI_API_KEY.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve the action vocabulary over MCP on stdio")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := livecoder.NewBuilder().
		WithConfig(cfg).
		WithLogger(logger).
		Build(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			logger.Warn("closing session", zap.Error(err))
		}
	}()

	if !app.Engine().ChatConfigured() {
		logger.Warn("no API key configured; chat is disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Start(ctx) })
	if serveMCP {
		g.Go(func() error {
			err := app.ServeMCP(ctx)
			// The client hanging up ends the whole server.
			stop()
			return err
		})
	}
	return g.Wait()
}
