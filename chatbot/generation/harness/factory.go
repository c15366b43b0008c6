package harness

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/config"
	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for the libsql conversation store
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// CreateOrchestrator wires an orchestrator around provider. The returned store
// must be closed by the caller.
func (f *Factory) CreateOrchestrator(provider ports.Provider) (*ChatOrchestrator, ports.ConversationStore, error) {
	if provider == nil {
		return nil, nil, fmt.Errorf("provider is required")
	}

	store, err := f.createStore()
	if err != nil {
		return nil, nil, err
	}

	sessions := NewSessionManager(store, f.cfg.Session.RequireIssued, f.logger)
	trimmer := NewTrimmer(f.createTokenizer(provider))

	orchestrator := NewChatOrchestrator(
		sessions,
		provider,
		trimmer,
		NewPromptBuilder(),
		f.createRateLimiter(),
		f.createTracer(),
		SettingsFromConfig(f.cfg, f.logger),
		f.logger,
	)

	return orchestrator, store, nil
}

// CreateProvider builds the completion engine adapter named by llm.provider.
func (f *Factory) CreateProvider() (ports.Provider, error) {
	llm := f.cfg.LLM
	switch llm.Provider {
	case "openai":
		if llm.APIKey == "" {
			f.logger.Warn().Str("base_url", llm.BaseURL).Msg("llm.api_key is empty; requests will be unauthenticated")
		}
		return adapters.NewOpenAIProvider(adapters.OpenAIConfig{
			BaseURL:        llm.BaseURL,
			APIKey:         llm.APIKey,
			Model:          llm.Model,
			RequestTimeout: llm.RequestTimeout,
		}, f.logger), nil
	case "echo":
		return adapters.NewEchoProvider(0), nil
	case "llama":
		return adapters.NewLlamaProvider(adapters.LlamaConfig{
			ModelPath:   llm.ModelPath,
			ContextSize: llm.ContextSize,
			Threads:     llm.Threads,
			MaxTokens:   llm.MaxNewTokens,
			PoolSize:    llm.PoolSize,
		}, f.logger)
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", llm.Provider)
	}
}

// SettingsFromConfig derives per-turn settings, clamping values the engine cannot use.
func SettingsFromConfig(cfg *config.Config, logger zerolog.Logger) Settings {
	s := Settings{
		SystemPrompt:     cfg.Harness.SystemPrompt,
		MaxHistoryTokens: cfg.History.MaxTokens,
		ChunkTimeout:     cfg.LLM.ChunkTimeout,
		Options: ports.Options{
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxNewTokens: cfg.LLM.MaxNewTokens,
		},
	}

	if s.Options.Temperature < 0 {
		logger.Warn().Float32("temperature", s.Options.Temperature).Msg("Temperature clamped to minimum of 0")
		s.Options.Temperature = 0
	}
	if s.Options.Temperature > 2 {
		logger.Warn().Float32("temperature", s.Options.Temperature).Msg("Temperature clamped to maximum of 2")
		s.Options.Temperature = 2
	}
	if s.Options.MaxNewTokens < 0 {
		logger.Warn().Int("max_new_tokens", s.Options.MaxNewTokens).Msg("MaxNewTokens clamped to 0 (engine default)")
		s.Options.MaxNewTokens = 0
	}

	return s
}

func (f *Factory) createStore() (ports.ConversationStore, error) {
	switch f.cfg.History.Backend {
	case "libsql":
		if f.db == nil {
			return nil, fmt.Errorf("history.backend is libsql but no database was opened")
		}
		return adapters.NewLibSQLConversationStore(f.db), nil
	default:
		return adapters.NewMemoryConversationStore(), nil
	}
}

func (f *Factory) createTokenizer(provider ports.Provider) ports.Tokenizer {
	var base ports.Tokenizer = HeuristicTokenizer
	if tk, ok := provider.(ports.Tokenizer); ok {
		base = tk
	}
	if !f.cfg.Harness.CacheEnabled {
		return base
	}
	return NewCachingTokenizer(base, adapters.NewLRUCache(f.cfg.Harness.CacheCapacity), f.cfg.Harness.CacheTTLSeconds)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
