package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jxucoder/livecoder"
	"github.com/jxucoder/livecoder/internal/config"
)

var (
	execHold    time.Duration
	execRuntime string
)

var execCmd = &cobra.Command{
	Use:   "exec <file>",
	Short: "Run a script file in a local sandbox",
	Long: `Run a script once in a local sandbox. Anything it schedules keeps running
for --hold (or until interrupted), then playback is stopped and everything the
script created is disposed.

The runtime follows the file extension (.star is Starlark, anything else is
JavaScript) unless --runtime is given.

Example:
  livecoder exec beat.js --hold 30s
  livecoder exec beat.star`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().DurationVar(&execHold, "hold", 0, "keep scheduled callbacks running this long")
	execCmd.Flags().StringVar(&execRuntime, "runtime", "", "script runtime (javascript or starlark)")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	path := args[0]
	script, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Sandbox.Runtime = runtimeFor(path, execRuntime)

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

	eng := app.Engine()
	eng.SetScript(string(script))
	rec := eng.Run(ctx)
	if !rec.Success {
		return fmt.Errorf("script failed: %s", rec.Error)
	}
	fmt.Printf("Running %s (execution %s)\n", filepath.Base(path), rec.ID)
	if live := eng.Live(); len(live) > 0 {
		fmt.Printf("Live objects: %v\n", live)
	}

	if execHold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(execHold):
		}
	}

	eng.Stop(context.Background())
	fmt.Println("Stopped")
	return nil
}

func runtimeFor(path, override string) string {
	if override != "" {
		return override
	}
	if filepath.Ext(path) == ".star" {
		return config.RuntimeStarlark
	}
	return config.RuntimeJavaScript
}
