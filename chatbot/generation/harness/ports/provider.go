package harnessports

import (
	"context"
	"errors"
)

var (
	// ErrEngineUnavailable reports that the completion engine could not be reached or refused the call.
	ErrEngineUnavailable = errors.New("completion engine unavailable")
	// ErrEngineTimeout reports that the engine went silent for longer than the chunk timeout.
	ErrEngineTimeout = errors.New("completion engine timed out")
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    Role
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // system instructions, always first
	Messages []PromptMessage   // ordered chat history (already windowed)
	Question string            // the new human message, always last
	Meta     map[string]string // lightweight metadata for tracing/caching keys
}

// Transcript flattens the input into the ordered message list a chat engine expects:
// system, history, then the question.
func (in PromptInput) Transcript() []PromptMessage {
	out := make([]PromptMessage, 0, len(in.Messages)+2)
	if in.System != "" {
		out = append(out, PromptMessage{Role: RoleSystem, Content: in.System})
	}
	out = append(out, in.Messages...)
	out = append(out, PromptMessage{Role: RoleHuman, Content: in.Question})
	return out
}

// Options controls sampling and limits.
type Options struct {
	Model        string
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Seed         int
	Stop         []string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging/telemetry
	Usage *Usage // optional usage information
}

// CompletionChunk is the provider's streaming delta. A chunk with Done or Err set
// is the last one on the channel.
type CompletionChunk struct {
	DeltaText string
	Done      bool
	Usage     *Usage // on final chunk when available
	Err       error
}

// Provider is the abstraction for all LLM backends (inference hidden behind this port).
// Stream is single-pass; cancelling ctx aborts the upstream call and closes the channel.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}

// Tokenizer counts tokens in the units the engine budgets in.
type Tokenizer interface {
	CountTokens(text string) int
}

// TokenizerFunc adapts a plain function to Tokenizer.
type TokenizerFunc func(text string) int

func (f TokenizerFunc) CountTokens(text string) int { return f(text) }
