// Package config provides configuration management for livecoder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in LLMConfig.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Runtime names accepted in SandboxConfig.Runtime.
const (
	RuntimeJavaScript = "javascript"
	RuntimeStarlark   = "starlark"
)

// anthropicKeyPrefix is the prefix every Anthropic API key carries.
const anthropicKeyPrefix = "sk-ant-"

// runtimeHandle is the handle name the runtimes use when none is configured.
const runtimeHandle = "host"

// Starter scripts keep a steady pulse going. HANDLE is replaced with the
// configured handle name.
const (
	javaScriptStarter = `// A four-beat pulse at 120 BPM. Ask the assistant to build on it.
const bpm = 120;
const pulse = {
  beat: 0,
  dispose: function () {
    HANDLE.log("pulse stopped at beat", this.beat);
  },
};
HANDLE.transport.scheduleRepeat(function () {
  pulse.beat = (pulse.beat % 4) + 1;
}, 60000 / bpm);
context.pulse = pulse;`

	starlarkStarter = `# A four-beat pulse at 120 BPM. Ask the assistant to build on it.
bpm = 120
pulse = {"beat": 0}

def tick():
    pulse["beat"] = pulse["beat"] % 4 + 1

def stop():
    HANDLE.log("pulse stopped at beat", pulse["beat"])

HANDLE.schedule_repeat(tick, 60000 // bpm)
context["pulse"] = struct(dispose = stop)`
)

// Config holds all configuration for a livecoder server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string `yaml:"server_addr"`

	// JournalPath is the SQLite journal file. Empty keeps the journal in
	// memory for the lifetime of the process.
	JournalPath string `yaml:"journal_path"`

	Session SessionConfig `yaml:"session"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	LLM     LLMConfig     `yaml:"llm"`
}

// SessionConfig bounds the in-memory histories.
type SessionConfig struct {
	MaxMessages   int    `yaml:"max_messages"`
	MaxExecutions int    `yaml:"max_executions"`
	SeedMessage   string `yaml:"seed_message"`
	InitialScript string `yaml:"initial_script"`
}

// SandboxConfig selects the script runtime.
type SandboxConfig struct {
	// Runtime is "javascript" or "starlark".
	Runtime string `yaml:"runtime"`

	// HandleName is the name scripts use for the host handle.
	HandleName string `yaml:"handle_name"`

	// RunTimeout bounds synchronous top-level script code, e.g. "5s".
	RunTimeout string `yaml:"run_timeout"`
}

// LLMConfig configures the chat model.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
	Persona   string `yaml:"persona"`

	// Keys are normally supplied through the environment.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerAddr: ":7080",
		Session: SessionConfig{
			MaxMessages:   20,
			MaxExecutions: 10,
		},
		Sandbox: SandboxConfig{
			Runtime:    RuntimeJavaScript,
			HandleName: "Tone",
			RunTimeout: "5s",
		},
		LLM: LLMConfig{
			MaxTokens: 3000,
		},
	}
}

// DefaultPath returns ~/.livecoder/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load builds a Config from the defaults, then the YAML file at path (a
// missing file is not an error), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.ServerAddr = envOr("LIVECODER_ADDR", c.ServerAddr)
	c.JournalPath = envOr("LIVECODER_JOURNAL", c.JournalPath)
	c.Session.MaxMessages = envOrInt("LIVECODER_MAX_MESSAGES", c.Session.MaxMessages)
	c.Session.MaxExecutions = envOrInt("LIVECODER_MAX_EXECUTIONS", c.Session.MaxExecutions)
	c.Sandbox.Runtime = envOr("LIVECODER_RUNTIME", c.Sandbox.Runtime)
	c.Sandbox.RunTimeout = envOr("LIVECODER_RUN_TIMEOUT", c.Sandbox.RunTimeout)
	c.LLM.Provider = envOr("LIVECODER_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("LIVECODER_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envOr("LIVECODER_LLM_BASE_URL", c.LLM.BaseURL)

	c.LLM.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.GeminiAPIKey = envOr("GEMINI_API_KEY", c.LLM.GeminiAPIKey)
}

// Validate checks caps, runtime and provider names.
func (c *Config) Validate() error {
	if c.Session.MaxMessages < 1 {
		return fmt.Errorf("session.max_messages must be at least 1, got %d", c.Session.MaxMessages)
	}
	if c.Session.MaxExecutions < 1 {
		return fmt.Errorf("session.max_executions must be at least 1, got %d", c.Session.MaxExecutions)
	}
	switch c.Sandbox.Runtime {
	case RuntimeJavaScript, RuntimeStarlark:
	default:
		return fmt.Errorf("unknown sandbox runtime %q", c.Sandbox.Runtime)
	}
	if _, err := c.RunTimeout(); err != nil {
		return err
	}
	switch c.LLM.Provider {
	case "", ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// RunTimeout parses Sandbox.RunTimeout. Empty means no limit.
func (c *Config) RunTimeout() (time.Duration, error) {
	if c.Sandbox.RunTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Sandbox.RunTimeout)
	if err != nil {
		return 0, fmt.Errorf("sandbox.run_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("sandbox.run_timeout must not be negative")
	}
	return d, nil
}

// StarterScript returns a runnable example for the configured runtime, written
// against the configured handle name.
func (c *Config) StarterScript() string {
	handle := c.Sandbox.HandleName
	if handle == "" {
		handle = runtimeHandle
	}
	src := javaScriptStarter
	if c.Sandbox.Runtime == RuntimeStarlark {
		src = starlarkStarter
	}
	return strings.ReplaceAll(src, "HANDLE", handle)
}

// SessionScript is the script a new session starts with: the configured
// initial script, or the runtime's starter when none is set.
func (c *Config) SessionScript() string {
	if c.Session.InitialScript != "" {
		return c.Session.InitialScript
	}
	return c.StarterScript()
}

// Language is the script language named in chat prompts.
func (c *Config) Language() string {
	if c.Sandbox.Runtime == RuntimeStarlark {
		return "python"
	}
	return "javascript"
}

// Credentials returns the provider to use and its key. An explicit provider
// wins; otherwise the first provider with a key is chosen. The key is empty
// when nothing is configured.
func (c *Config) Credentials() (provider, key string) {
	if c.LLM.Provider != "" {
		return c.LLM.Provider, c.keyFor(c.LLM.Provider)
	}
	for _, p := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		if k := c.keyFor(p); k != "" {
			return p, k
		}
	}
	return "", ""
}

func (c *Config) keyFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return c.LLM.AnthropicAPIKey
	case ProviderOpenAI:
		return c.LLM.OpenAIAPIKey
	case ProviderGemini:
		return c.LLM.GeminiAPIKey
	}
	return ""
}

// ValidateKey checks the shape of an API key. Anthropic keys must carry the
// sk-ant- prefix; other providers only need a non-empty key.
func ValidateKey(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s API key is empty", provider)
	}
	if provider == ProviderAnthropic && !strings.HasPrefix(key, anthropicKeyPrefix) {
		return fmt.Errorf("anthropic API key must start with %q", anthropicKeyPrefix)
	}
	return nil
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".livecoder"
	}
	return filepath.Join(home, ".livecoder")
}
