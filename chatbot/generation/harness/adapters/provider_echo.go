package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// EchoProvider answers without a model: it repeats the question back word by word.
// It keeps the service usable offline and in smoke tests.
type EchoProvider struct {
	delay time.Duration // pause before each chunk
}

// NewEchoProvider creates an echo provider with the given per-chunk delay.
func NewEchoProvider(delay time.Duration) *EchoProvider {
	return &EchoProvider{delay: delay}
}

func (p *EchoProvider) answer(in ports.PromptInput) string {
	return fmt.Sprintf("You said: %s", in.Question)
}

// Complete returns the whole echo at once.
func (p *EchoProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}
	return ports.Completion{Text: p.answer(in)}, nil
}

// Stream emits the echo split on word boundaries, keeping the separators so the
// concatenated deltas equal the Complete text.
func (p *EchoProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	parts := splitKeepSpace(p.answer(in))

	ch := make(chan ports.CompletionChunk)
	go func() {
		defer close(ch)
		for _, part := range append(parts, "") {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					return
				}
			}
			chunk := ports.CompletionChunk{DeltaText: part, Done: part == ""}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func splitKeepSpace(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexAny(s, " \n")
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

var _ ports.Provider = (*EchoProvider)(nil)
