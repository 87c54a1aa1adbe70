package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LIVECODER_ADDR", "LIVECODER_JOURNAL", "LIVECODER_MAX_MESSAGES",
		"LIVECODER_MAX_EXECUTIONS", "LIVECODER_RUNTIME", "LIVECODER_RUN_TIMEOUT",
		"LIVECODER_PROVIDER", "LIVECODER_MODEL", "LIVECODER_LLM_BASE_URL",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9000"
session:
  max_messages: 5
sandbox:
  runtime: starlark
llm:
  provider: openai
  model: gpt-test
`), 0o600))
	t.Setenv("LIVECODER_MAX_EXECUTIONS", "3")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, 5, cfg.Session.MaxMessages)
	assert.Equal(t, 3, cfg.Session.MaxExecutions)
	assert.Equal(t, RuntimeStarlark, cfg.Sandbox.Runtime)
	assert.Equal(t, "Tone", cfg.Sandbox.HandleName, "unset fields keep their defaults")
	assert.Equal(t, "python", cfg.Language())

	provider, key := cfg.Credentials()
	assert.Equal(t, ProviderOpenAI, provider)
	assert.Equal(t, "sk-test", key)
}

func TestLoadBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Session.InitialScript = "a=1"

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "a=1", loaded.Session.InitialScript)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero messages", func(c *Config) { c.Session.MaxMessages = 0 }, false},
		{"zero executions", func(c *Config) { c.Session.MaxExecutions = 0 }, false},
		{"unknown runtime", func(c *Config) { c.Sandbox.Runtime = "lua" }, false},
		{"bad timeout", func(c *Config) { c.Sandbox.RunTimeout = "soon" }, false},
		{"negative timeout", func(c *Config) { c.Sandbox.RunTimeout = "-1s" }, false},
		{"no timeout", func(c *Config) { c.Sandbox.RunTimeout = "" }, true},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "acme" }, false},
		{"gemini", func(c *Config) { c.LLM.Provider = ProviderGemini }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	cfg := Default()
	d, err := cfg.RunTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestCredentialsPrecedence(t *testing.T) {
	cfg := Default()
	provider, key := cfg.Credentials()
	assert.Empty(t, provider)
	assert.Empty(t, key)

	cfg.LLM.GeminiAPIKey = "g"
	cfg.LLM.AnthropicAPIKey = "sk-ant-a"
	provider, key = cfg.Credentials()
	assert.Equal(t, ProviderAnthropic, provider)
	assert.Equal(t, "sk-ant-a", key)

	cfg.LLM.Provider = ProviderGemini
	provider, key = cfg.Credentials()
	assert.Equal(t, ProviderGemini, provider)
	assert.Equal(t, "g", key)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey(ProviderAnthropic, "sk-ant-abc"))
	assert.Error(t, ValidateKey(ProviderAnthropic, "sk-abc"))
	assert.Error(t, ValidateKey(ProviderAnthropic, ""))
	assert.Error(t, ValidateKey(ProviderOpenAI, "  "))
	assert.NoError(t, ValidateKey(ProviderOpenAI, "sk-abc"))
	assert.NoError(t, ValidateKey(ProviderGemini, "AIza"))
}

func TestStarterScriptFollowsRuntimeAndHandle(t *testing.T) {
	cfg := Default()
	js := cfg.StarterScript()
	assert.Contains(t, js, "Tone.transport.scheduleRepeat(")
	assert.Contains(t, js, "context.pulse = pulse;")
	assert.NotContains(t, js, "HANDLE")

	cfg.Sandbox.Runtime = RuntimeStarlark
	cfg.Sandbox.HandleName = ""
	star := cfg.StarterScript()
	assert.Contains(t, star, "host.schedule_repeat(tick, 60000 // bpm)")
	assert.Contains(t, star, `context["pulse"] = struct(dispose = stop)`)
	assert.NotContains(t, star, "HANDLE")
}

func TestSessionScriptPrefersConfiguredScript(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.StarterScript(), cfg.SessionScript())

	cfg.Session.InitialScript = "context.x = 1;"
	assert.Equal(t, "context.x = 1;", cfg.SessionScript())
}
