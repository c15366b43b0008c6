package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL        string        // e.g. https://api.openai.com/v1
	APIKey         string
	Model          string
	RequestTimeout time.Duration // applies to Complete only; streams are bounded by the idle watchdog
	HTTPClient     *http.Client
}

// OpenAIProvider talks to /chat/completions, streaming through server-sent events.
type OpenAIProvider struct {
	url        string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger

	tokenizerOnce sync.Once
	tokenizer     ports.Tokenizer
}

// NewOpenAIProvider creates a provider for the configured endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		url:        strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    cfg.RequestTimeout,
		httpClient: client,
		logger:     logger.With().Str("component", "openai_provider").Logger(),
	}
}

// CountTokens measures text in the model's own BPE units. If the encoding
// cannot be loaded it falls back to a four-bytes-per-token estimate.
func (p *OpenAIProvider) CountTokens(text string) int {
	p.tokenizerOnce.Do(func() {
		tk, err := NewTiktokenTokenizer(p.model)
		if err != nil {
			p.logger.Warn().Err(err).Str("model", p.model).Msg("Falling back to estimated token counts")
			p.tokenizer = ports.TokenizerFunc(estimateTokens)
			return
		}
		p.tokenizer = tk
	})
	return p.tokenizer.CountTokens(text)
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float32        `json:"temperature"`
	TopP          float32        `json:"top_p,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Seed          int            `json:"seed,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *chatUsage) toPorts() *ports.Usage {
	if u == nil {
		return nil
	}
	return &ports.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

// wireRole maps transcript roles onto the chat completions vocabulary.
func wireRole(r ports.Role) string {
	if r == ports.RoleHuman {
		return "user"
	}
	return string(r)
}

func (p *OpenAIProvider) buildRequest(in ports.PromptInput, opts ports.Options, stream bool) chatRequest {
	msgs := in.Transcript()
	req := chatRequest{
		Model:       p.model,
		Messages:    make([]chatMessage, 0, len(msgs)),
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxNewTokens,
		Seed:        opts.Seed,
		Stop:        opts.Stop,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: wireRole(m.Role), Content: m.Content})
	}
	if stream {
		req.Stream = true
		req.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return req
}

func (p *OpenAIProvider) do(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ports.ErrEngineUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		return nil, fmt.Errorf("%w: status=%d body=%s", ports.ErrEngineUnavailable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return resp, nil
}

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.do(ctx, p.buildRequest(in, opts, false))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ports.Completion{}, fmt.Errorf("%w: %v", ports.ErrEngineTimeout, err)
		}
		return ports.Completion{}, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.Completion{}, fmt.Errorf("%w: failed to parse chat response: %v", ports.ErrEngineUnavailable, err)
	}

	out := ports.Completion{Raw: parsed, Usage: parsed.Usage.toPorts()}
	if len(parsed.Choices) > 0 {
		out.Text = parsed.Choices[0].Message.Content
	}
	return out, nil
}

// Stream opens a streaming chat completion. The returned channel yields deltas in
// arrival order and closes after a Done or Err chunk, or when ctx is cancelled.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	resp, err := p.do(ctx, p.buildRequest(in, opts, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan ports.CompletionChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(c ports.CompletionChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *ports.Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				// Comments, event names and blank separators carry nothing for us.
				continue
			}
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				send(ports.CompletionChunk{Done: true, Usage: usage})
				return
			}

			var ev chatStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				p.logger.Warn().Err(err).Str("data", data).Msg("Skipping malformed stream event")
				continue
			}
			if ev.Usage != nil {
				usage = ev.Usage.toPorts()
			}
			for _, choice := range ev.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(ports.CompletionChunk{DeltaText: choice.Delta.Content}) {
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		send(ports.CompletionChunk{Err: fmt.Errorf("%w: stream ended early: %v", ports.ErrEngineUnavailable, err)})
	}()

	return ch, nil
}

var (
	_ ports.Provider  = (*OpenAIProvider)(nil)
	_ ports.Tokenizer = (*OpenAIProvider)(nil)
)
