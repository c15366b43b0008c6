//go:build !llama

package adapters

import (
	"context"
	"errors"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

// ErrLlamaNotAvailable is returned when the binary was built without the llama tag.
var ErrLlamaNotAvailable = errors.New("llama.cpp not available in this build (rebuild with -tags llama)")

// LlamaProvider is a placeholder for builds without cgo llama.cpp bindings.
type LlamaProvider struct{}

// NewLlamaProvider always fails in this build.
func NewLlamaProvider(cfg LlamaConfig, logger zerolog.Logger) (*LlamaProvider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return nil, ErrLlamaNotAvailable
}

func (p *LlamaProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	return ports.Completion{}, ErrLlamaNotAvailable
}

func (p *LlamaProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	return nil, ErrLlamaNotAvailable
}

func (p *LlamaProvider) CountTokens(text string) int { return estimateTokens(text) }

func (p *LlamaProvider) Close() error { return nil }

var (
	_ ports.Provider  = (*LlamaProvider)(nil)
	_ ports.Tokenizer = (*LlamaProvider)(nil)
)
