package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/streaming-chatbot/chatbot"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. CHATBOT_LLM_API_KEY.
const EnvPrefix = "CHATBOT"

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	History HistoryConfig `mapstructure:"history"`
	Session SessionConfig `mapstructure:"session"`
	Harness HarnessConfig `mapstructure:"harness"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig stores HTTP transport settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	StreamPacing      time.Duration `mapstructure:"stream_pacing"`       // Delay between SSE frames, 0 disables
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`  // SSE keep-alive comment period, 0 disables
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"` // http.Server ReadHeaderTimeout
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`    // Grace period for in-flight streams
	CORSOrigins       []string      `mapstructure:"cors_origins"`        // Allowed origins, "*" allows all
}

// LLMConfig stores language model configurations.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`        // "openai", "llama", "echo"
	Model          string        `mapstructure:"model"`           // Remote model name
	BaseURL        string        `mapstructure:"base_url"`        // OpenAI-compatible API root
	APIKey         string        `mapstructure:"api_key"`         // Bearer token for the remote API
	Temperature    float32       `mapstructure:"temperature"`     // Sampling temperature
	MaxNewTokens   int           `mapstructure:"max_new_tokens"`  // Max tokens to generate, 0 lets the engine decide
	ChunkTimeout   time.Duration `mapstructure:"chunk_timeout"`   // Max silence between streamed chunks
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // Blocking completion timeout
	ModelPath      string        `mapstructure:"model_path"`      // GGUF file for the llama provider
	ContextSize    int           `mapstructure:"context_size"`    // llama context window
	Threads        int           `mapstructure:"threads"`         // llama inference threads
	PoolSize       int           `mapstructure:"pool_size"`       // llama model instances
}

// HistoryConfig stores conversation history settings.
type HistoryConfig struct {
	Backend       string        `mapstructure:"backend"`        // "memory" or "libsql"
	DSN           string        `mapstructure:"dsn"`            // libsql database file
	MaxTokens     int           `mapstructure:"max_tokens"`     // Bounded window budget
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`       // Evict sessions idle longer than this, 0 keeps forever
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // How often idle sessions are swept
}

// SessionConfig stores session issuance policy.
type SessionConfig struct {
	RequireIssued bool `mapstructure:"require_issued"` // Reject identifiers this server never issued
}

// HarnessConfig stores LLM harness configurations.
type HarnessConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`

	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Memoise token counts
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Enable per-session rate limiting
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable span logging
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "json" or "console"
}

// Loader owns a viper instance so that the same sources can be re-read on change.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader for the given file. An empty path searches the
// working directory and the user config directory for config.yaml.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// llm.api_key becomes CHATBOT_LLM_API_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads the config file (if any) and decodes the merged result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	return l.decode()
}

// Watch re-decodes the configuration whenever the backing file changes.
// It is a no-op when no config file was found.
func (l *Loader) Watch(onChange func(cfg *Config, event fsnotify.Event, err error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		onChange(cfg, e, err)
	})
	l.v.WatchConfig()
}

// ConfigFileUsed reports the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "llama", "echo":
	default:
		return fmt.Errorf("unsupported llm.provider %q", c.LLM.Provider)
	}

	switch c.History.Backend {
	case "memory", "libsql":
	default:
		return fmt.Errorf("unsupported history.backend %q", c.History.Backend)
	}

	if c.History.Backend == "libsql" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the libsql backend")
	}
	if c.Server.StreamPacing < 0 {
		return fmt.Errorf("server.stream_pacing cannot be negative: %s", c.Server.StreamPacing)
	}
	if c.LLM.ChunkTimeout < 0 {
		return fmt.Errorf("llm.chunk_timeout cannot be negative: %s", c.LLM.ChunkTimeout)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", internal.DefaultListenAddr)
	v.SetDefault("server.stream_pacing", internal.DefaultStreamPacing)
	v.SetDefault("server.heartbeat_interval", "15s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// LLM defaults
	v.SetDefault("llm.provider", internal.DefaultLLMProvider)
	v.SetDefault("llm.model", internal.DefaultLLMModel)
	v.SetDefault("llm.base_url", internal.DefaultLLMBaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_new_tokens", 0)
	v.SetDefault("llm.chunk_timeout", "30s")
	v.SetDefault("llm.request_timeout", "120s")
	v.SetDefault("llm.model_path", "")
	v.SetDefault("llm.context_size", 4096)
	v.SetDefault("llm.threads", 4)
	v.SetDefault("llm.pool_size", 1)

	// History defaults
	v.SetDefault("history.backend", internal.DefaultHistoryBackend)
	v.SetDefault("history.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("history.max_tokens", internal.DefaultMaxHistoryTokens)
	v.SetDefault("history.idle_ttl", "0s")
	v.SetDefault("history.sweep_interval", "5m")

	v.SetDefault("session.require_issued", false)

	// Harness defaults
	v.SetDefault("harness.system_prompt", internal.DefaultSystemPrompt)
	v.SetDefault("harness.cache_enabled", true)
	v.SetDefault("harness.cache_capacity", 4096)
	v.SetDefault("harness.cache_ttl_seconds", 3600)
	v.SetDefault("harness.rate_limit_enabled", false)
	v.SetDefault("harness.rate_limit_capacity", 10)
	v.SetDefault("harness.rate_limit_refill_rate", "6s")
	v.SetDefault("harness.enable_tracing", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
