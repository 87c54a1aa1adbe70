// livecoder runs an agentic live-coding session: a script sandbox, a bounded
// chat and execution history, and an assistant that edits and runs the script
// through a fixed action vocabulary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version    = "dev"
	serverURL  string
	configPath string
	verbose    bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "livecoder",
	Short: "livecoder - chat-driven live coding",
	Long: `livecoder keeps a live script running in a sandbox and lets an assistant
edit and run it from chat.

  livecoder serve                     Start the server
  livecoder serve --mcp               Also serve the actions over MCP on stdio
  livecoder exec beat.js --hold 10s   Run a script file locally
  livecoder chat "make it faster"     Send a chat message to the server
  livecoder state                     Show the session state
  livecoder actions                   List the action vocabulary`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("LIVECODER_SERVER", "http://localhost:7080"), "livecoder server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.livecoder/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger logs to stderr so stdout stays free for command output and the
// MCP stdio transport.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
