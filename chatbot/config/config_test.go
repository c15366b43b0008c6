package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/streaming-chatbot/chatbot"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	tempDir, err := os.MkdirTemp("", "chatbot-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Keep a stray config.yaml in the repo from leaking into the search path
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(name, content string) string {
	path := filepath.Join(suite.tempDir, name)
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultListenAddr, cfg.Server.Addr)
	assert.Equal(suite.T(), 20*time.Millisecond, cfg.Server.StreamPacing)
	assert.Equal(suite.T(), []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(suite.T(), "openai", cfg.LLM.Provider)
	assert.Equal(suite.T(), internal.DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(suite.T(), float32(0), cfg.LLM.Temperature)
	assert.Equal(suite.T(), 30*time.Second, cfg.LLM.ChunkTimeout)
	assert.Equal(suite.T(), "memory", cfg.History.Backend)
	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.History.DSN)
	assert.Equal(suite.T(), 1000, cfg.History.MaxTokens)
	assert.False(suite.T(), cfg.Session.RequireIssued)
	assert.Equal(suite.T(), internal.DefaultSystemPrompt, cfg.Harness.SystemPrompt)
	assert.Equal(suite.T(), "info", cfg.Log.Level)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configFile := suite.writeConfig("config.yaml", `
server:
  addr: ":8080"
  stream_pacing: "0s"
llm:
  provider: "echo"
  chunk_timeout: "2s"
history:
  backend: "libsql"
  dsn: "test.db"
  max_tokens: 250
session:
  require_issued: true
harness:
  system_prompt: "Be terse."
`)

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), ":8080", cfg.Server.Addr)
	assert.Equal(suite.T(), time.Duration(0), cfg.Server.StreamPacing)
	assert.Equal(suite.T(), "echo", cfg.LLM.Provider)
	assert.Equal(suite.T(), 2*time.Second, cfg.LLM.ChunkTimeout)
	assert.Equal(suite.T(), "libsql", cfg.History.Backend)
	assert.Equal(suite.T(), "test.db", cfg.History.DSN)
	assert.Equal(suite.T(), 250, cfg.History.MaxTokens)
	assert.True(suite.T(), cfg.Session.RequireIssued)
	assert.Equal(suite.T(), "Be terse.", cfg.Harness.SystemPrompt)

	// Untouched keys keep their defaults
	assert.Equal(suite.T(), internal.DefaultLLMModel, cfg.LLM.Model)
}

func (suite *ConfigTestSuite) TestLoadConfigSearchesWorkingDirectory() {
	suite.writeConfig("config.yaml", `
llm:
  provider: "echo"
`)

	cfg, err := LoadConfig("")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "echo", cfg.LLM.Provider)
}

func (suite *ConfigTestSuite) TestEnvironmentOverridesFile() {
	configFile := suite.writeConfig("config.yaml", `
history:
  max_tokens: 250
`)
	suite.T().Setenv("CHATBOT_HISTORY_MAX_TOKENS", "42")
	suite.T().Setenv("CHATBOT_LLM_API_KEY", "sk-test")

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), 42, cfg.History.MaxTokens)
	assert.Equal(suite.T(), "sk-test", cfg.LLM.APIKey)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	// An explicit path that does not exist is an error
	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	configFile := suite.writeConfig("malformed.yaml", `
server:
  addr: ":8080"
  invalid_yaml: [unclosed bracket
`)

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsUnknownProvider() {
	configFile := suite.writeConfig("config.yaml", `
llm:
  provider: "carrier-pigeon"
`)

	cfg, err := LoadConfig(configFile)

	assert.ErrorContains(suite.T(), err, "llm.provider")
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestWatchReloadsOnWrite() {
	configFile := suite.writeConfig("config.yaml", `
harness:
  system_prompt: "first"
`)

	loader := NewLoader(configFile)
	cfg, err := loader.Load()
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "first", cfg.Harness.SystemPrompt)

	var latest atomic.Pointer[Config]
	loader.Watch(func(cfg *Config, _ fsnotify.Event, err error) {
		if err == nil {
			latest.Store(cfg)
		}
	})

	suite.writeConfig("config.yaml", `
harness:
  system_prompt: "second"
`)

	assert.Eventually(suite.T(), func() bool {
		cfg := latest.Load()
		return cfg != nil && cfg.Harness.SystemPrompt == "second"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			LLM:     LLMConfig{Provider: "echo"},
			History: HistoryConfig{Backend: "memory"},
		}
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.History.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.History.Backend = "libsql"
	assert.Error(t, cfg.Validate(), "libsql requires a dsn")

	cfg = base()
	cfg.Server.StreamPacing = -time.Second
	assert.Error(t, cfg.Validate())
}

// BenchmarkLoadConfig benchmarks config loading performance
func BenchmarkLoadConfig(b *testing.B) {
	for b.Loop() {
		cfg, err := LoadConfig("")
		if err != nil {
			b.Fatal(err)
		}
		_ = cfg
	}
}
