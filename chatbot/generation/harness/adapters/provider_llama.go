//go:build llama

package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"text/template"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"
)

// LlamaProvider serves completions from a local GGUF model through llama.cpp.
type LlamaProvider struct {
	cfg      LlamaConfig
	pool     chan *llama.LLama
	template *template.Template
	logger   zerolog.Logger

	// Counting runs while pooled instances are busy generating, so it gets
	// its own instance. Weights are mmapped and shared with the pool.
	tokenizerMu sync.Mutex
	tokenizer   *llama.LLama
}

// NewLlamaProvider loads cfg.PoolSize model instances.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (*LlamaProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &LlamaProvider{
		cfg:      cfg,
		pool:     make(chan *llama.LLama, cfg.PoolSize),
		template: chatTemplateFor(filepath.Base(cfg.ModelPath)),
		logger:   logger.With().Str("component", "llama_provider").Str("model_path", cfg.ModelPath).Logger(),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		model, err := llama.New(cfg.ModelPath,
			llama.SetContext(cfg.ContextSize),
			llama.SetGPULayers(cfg.GPULayers),
		)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.pool <- model
	}

	tokenizer, err := llama.New(cfg.ModelPath, llama.SetContext(cfg.ContextSize))
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to load tokenizer instance: %w", err)
	}
	p.tokenizer = tokenizer

	p.logger.Info().Int("pool_size", cfg.PoolSize).Msg("Llama provider initialized")
	return p, nil
}

func (p *LlamaProvider) borrow(ctx context.Context) (*llama.LLama, error) {
	select {
	case model := <-p.pool:
		return model, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *LlamaProvider) predictOptions(opts ports.Options) []llama.PredictOption {
	tokens := opts.MaxNewTokens
	if tokens <= 0 {
		tokens = p.cfg.MaxTokens
	}
	options := []llama.PredictOption{
		llama.SetTemperature(opts.Temperature),
		llama.SetTokens(tokens),
		llama.SetThreads(p.cfg.Threads),
		llama.SetRepeat(1),
		llama.SetStopWords(append([]string{"<|im_end|>", "<end_of_turn>"}, opts.Stop...)...),
	}
	if opts.TopP > 0 {
		options = append(options, llama.SetTopP(opts.TopP))
	}
	if opts.Seed != 0 {
		options = append(options, llama.SetSeed(opts.Seed))
	}
	return options
}

// Complete runs a blocking prediction.
func (p *LlamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	prompt, err := renderChatPrompt(p.template, in)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	model, err := p.borrow(ctx)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("%w: %v", ports.ErrEngineUnavailable, err)
	}
	defer func() { p.pool <- model }()

	text, err := model.Predict(prompt, p.predictOptions(opts)...)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("%w: prediction failed: %v", ports.ErrEngineUnavailable, err)
	}
	return ports.Completion{Text: text}, nil
}

// Stream runs a prediction and forwards each generated token.
func (p *LlamaProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	prompt, err := renderChatPrompt(p.template, in)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	model, err := p.borrow(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrEngineUnavailable, err)
	}

	ch := make(chan ports.CompletionChunk)
	go func() {
		defer close(ch)
		defer func() { p.pool <- model }()

		onToken := func(token string) bool {
			select {
			case ch <- ports.CompletionChunk{DeltaText: token}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		options := append(p.predictOptions(opts), llama.SetTokenCallback(onToken))
		if _, err := model.Predict(prompt, options...); err != nil {
			if ctx.Err() == nil {
				select {
				case ch <- ports.CompletionChunk{Err: fmt.Errorf("%w: prediction failed: %v", ports.ErrEngineUnavailable, err)}:
				case <-ctx.Done():
				}
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case ch <- ports.CompletionChunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CountTokens tokenizes text with the model's own vocabulary. Counts fall back
// to a four-bytes-per-token estimate if tokenization fails.
func (p *LlamaProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	p.tokenizerMu.Lock()
	defer p.tokenizerMu.Unlock()

	n, _, err := p.tokenizer.TokenizeString(text)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Tokenization failed, estimating")
		return estimateTokens(text)
	}
	return int(n)
}

// Close frees every model instance.
func (p *LlamaProvider) Close() error {
	p.tokenizerMu.Lock()
	if p.tokenizer != nil {
		p.tokenizer.Free()
		p.tokenizer = nil
	}
	p.tokenizerMu.Unlock()

	for {
		select {
		case model := <-p.pool:
			model.Free()
		default:
			return nil
		}
	}
}

var (
	_ ports.Provider  = (*LlamaProvider)(nil)
	_ ports.Tokenizer = (*LlamaProvider)(nil)
)
