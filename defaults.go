package livecoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jxucoder/livecoder/internal/config"
	"github.com/jxucoder/livecoder/llm"
	llmAnthropic "github.com/jxucoder/livecoder/llm/anthropic"
	llmGemini "github.com/jxucoder/livecoder/llm/gemini"
	llmOpenAI "github.com/jxucoder/livecoder/llm/openai"
	"github.com/jxucoder/livecoder/orchestrator"
	"github.com/jxucoder/livecoder/sandbox"
	"github.com/jxucoder/livecoder/sandbox/jsrt"
	"github.com/jxucoder/livecoder/sandbox/starrt"
	"github.com/jxucoder/livecoder/state"
	sqliteStore "github.com/jxucoder/livecoder/store/sqlite"
)

// applyDefaults fills in missing fields on the builder.
func applyDefaults(ctx context.Context, b *Builder) error {
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.config == nil {
		cfg, err := config.Load(config.DefaultPath())
		if err != nil {
			return err
		}
		b.config = cfg
	}
	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Journal.
	if b.journal == nil {
		j, err := openJournal(b.config.JournalPath)
		if err != nil {
			return fmt.Errorf("initializing journal: %w", err)
		}
		b.journal = j
	}

	// Sandbox runtime.
	if b.runtime == nil {
		b.runtime = newRuntime(b.config, b.logger.Named("script"))
	}

	// Chat model. A missing or malformed key leaves chat unconfigured.
	if b.llm == nil {
		client, err := llmClientFromConfig(ctx, b.config)
		if err != nil {
			b.logger.Warn("chat disabled", zap.Error(err))
		}
		b.llm = client
	}

	return nil
}

func openJournal(path string) (*sqliteStore.Store, error) {
	if path == "" {
		return sqliteStore.NewMemory()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	return sqliteStore.New(path)
}

func newRuntime(cfg *config.Config, logger *zap.Logger) sandbox.Runtime {
	if cfg.Sandbox.Runtime == config.RuntimeStarlark {
		return starrt.New(
			starrt.WithLogger(logger),
			starrt.WithHandleName(cfg.Sandbox.HandleName),
		)
	}
	return jsrt.New(
		jsrt.WithLogger(logger),
		jsrt.WithHandleName(cfg.Sandbox.HandleName),
	)
}

// llmClientFromConfig picks the provider and key from cfg. It returns a nil
// client, and no error, when no key is configured at all.
func llmClientFromConfig(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	provider, key := cfg.Credentials()
	if provider == "" {
		return nil, nil
	}
	if err := config.ValidateKey(provider, key); err != nil {
		return nil, err
	}

	switch provider {
	case config.ProviderAnthropic:
		var opts []llmAnthropic.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llmAnthropic.WithBaseURL(cfg.LLM.BaseURL))
		}
		return llmAnthropic.New(key, cfg.LLM.Model, opts...), nil
	case config.ProviderOpenAI:
		var opts []llmOpenAI.Option
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, llmOpenAI.WithBaseURL(cfg.LLM.BaseURL))
		}
		return llmOpenAI.New(key, cfg.LLM.Model, opts...), nil
	case config.ProviderGemini:
		client, err := llmGemini.New(ctx, key, cfg.LLM.Model, cfg.LLM.BaseURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", provider)
}

func sessionConfig(cfg *config.Config) state.Config {
	return state.Config{
		MaxMessages:   cfg.Session.MaxMessages,
		MaxExecutions: cfg.Session.MaxExecutions,
		SeedMessage:   cfg.Session.SeedMessage,
		InitialScript: cfg.SessionScript(),
	}
}

func orchestratorOptions(cfg *config.Config) []orchestrator.Option {
	opts := []orchestrator.Option{
		orchestrator.WithLanguage(cfg.Language()),
		orchestrator.WithPersona(cfg.LLM.Persona),
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, orchestrator.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	return opts
}
