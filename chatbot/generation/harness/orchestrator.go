package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// persistTimeout bounds the final transcript write once the answer is complete.
const persistTimeout = 5 * time.Second

// Settings are the hot-reloadable knobs of a conversation turn.
type Settings struct {
	SystemPrompt     string
	MaxHistoryTokens int           // bounded window budget, <= 0 keeps everything
	ChunkTimeout     time.Duration // max silence from the engine, 0 disables
	Options          ports.Options
}

// Response is the outcome of a blocking turn.
type Response struct {
	Text  string
	Usage *ports.Usage
}

// ChatOrchestrator runs one conversation turn: resolve the session, trim its
// history, assemble the prompt, call the engine and append the finished exchange.
type ChatOrchestrator struct {
	sessions *SessionManager
	provider ports.Provider
	trimmer  *Trimmer
	builder  *PromptBuilder
	limiter  ports.RateLimiter
	tracer   ports.Tracer
	logger   zerolog.Logger

	settings atomic.Pointer[Settings]
	inflight conc.WaitGroup
	closing  atomic.Bool
}

// NewChatOrchestrator creates an orchestrator with dependencies.
func NewChatOrchestrator(
	sessions *SessionManager,
	provider ports.Provider,
	trimmer *Trimmer,
	builder *PromptBuilder,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	settings Settings,
	logger zerolog.Logger,
) *ChatOrchestrator {
	o := &ChatOrchestrator{
		sessions: sessions,
		provider: provider,
		trimmer:  trimmer,
		builder:  builder,
		limiter:  limiter,
		tracer:   tracer,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
	o.settings.Store(&settings)
	return o
}

// Sessions exposes the session manager used by this orchestrator.
func (o *ChatOrchestrator) Sessions() *SessionManager { return o.sessions }

// Settings returns the current settings.
func (o *ChatOrchestrator) Settings() Settings { return *o.settings.Load() }

// Reconfigure swaps settings for turns that start afterwards.
func (o *ChatOrchestrator) Reconfigure(s Settings) {
	o.settings.Store(&s)
	o.logger.Info().
		Int("max_history_tokens", s.MaxHistoryTokens).
		Dur("chunk_timeout", s.ChunkTimeout).
		Msg("Orchestrator reconfigured")
}

// turn is a resolved, rate-limited session with its prompt ready.
type turn struct {
	handle   *Transcript
	question string
	prompt   ports.PromptInput
	settings Settings
}

func (o *ChatOrchestrator) begin(ctx context.Context, sessionID, question string) (*turn, error) {
	if sessionID == "" {
		return nil, ErrNoActiveSession
	}
	if question == "" {
		return nil, ErrNoQuestion
	}
	if o.closing.Load() {
		return nil, ErrShuttingDown
	}
	if err := o.sessions.Validate(ctx, sessionID); err != nil {
		return nil, err
	}

	release, err := o.limiter.Acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	release()

	handle, err := o.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := handle.Turns(ctx)
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	settings := o.Settings()
	window := o.trimmer.Trim(history, settings.MaxHistoryTokens)
	prompt := o.builder.Assemble(settings.SystemPrompt, window, question)
	prompt.Meta["session_id"] = sessionID

	o.tracer.Event(ctx, "window_trimmed", map[string]any{
		"history_turns": len(history),
		"window_turns":  len(window),
	})

	return &turn{handle: handle, question: prompt.Question, prompt: prompt, settings: settings}, nil
}

func (o *ChatOrchestrator) persist(ctx context.Context, t *turn, answer string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	now := time.Now()
	return t.handle.Append(ctx,
		ports.Turn{Role: ports.RoleHuman, Content: t.question, CreatedAt: now},
		ports.Turn{Role: ports.RoleAssistant, Content: answer, CreatedAt: now},
	)
}

// Complete runs a blocking turn and returns the whole answer.
func (o *ChatOrchestrator) Complete(ctx context.Context, sessionID, question string) (resp *Response, err error) {
	ctx, finish := o.tracer.StartSpan(ctx, "chat.complete", map[string]any{"session_id": sessionID})
	defer func() { finish(err) }()

	t, err := o.begin(ctx, sessionID, question)
	if err != nil {
		return nil, err
	}
	defer t.handle.Release()

	completion, err := o.provider.Complete(ctx, t.prompt, t.settings.Options)
	if err != nil {
		return nil, fmt.Errorf("provider call failed: %w", err)
	}

	if err := o.persist(ctx, t, completion.Text); err != nil {
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}

	return &Response{Text: completion.Text, Usage: completion.Usage}, nil
}

// Stream starts a streaming turn. Validation, session and rate-limit failures are
// returned directly; engine failures arrive in-band as a final chunk with Err set.
// The channel closes after a Done or Err chunk, or once ctx is cancelled. The
// session stays locked until then.
func (o *ChatOrchestrator) Stream(ctx context.Context, sessionID, question string) (<-chan ports.CompletionChunk, error) {
	spanCtx, finish := o.tracer.StartSpan(ctx, "chat.stream", map[string]any{"session_id": sessionID})

	t, err := o.begin(spanCtx, sessionID, question)
	if err != nil {
		finish(err)
		return nil, err
	}

	out := make(chan ports.CompletionChunk)
	o.inflight.Go(func() {
		err := o.relay(spanCtx, t, out)
		finish(err)
	})
	return out, nil
}

// relay forwards engine chunks to out, enforcing the idle timeout, and appends
// the exchange only after the engine signalled completion.
func (o *ChatOrchestrator) relay(ctx context.Context, t *turn, out chan<- ports.CompletionChunk) error {
	defer close(out)
	defer t.handle.Release()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(c ports.CompletionChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) error {
		emit(ports.CompletionChunk{Err: err})
		return err
	}

	upstream, err := o.provider.Stream(streamCtx, t.prompt, t.settings.Options)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(fmt.Errorf("provider stream failed: %w", err))
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if t.settings.ChunkTimeout > 0 {
		timer = time.NewTimer(t.settings.ChunkTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	var answer strings.Builder
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle:
			cancel()
			return fail(fmt.Errorf("%w: no output for %s", ports.ErrEngineTimeout, t.settings.ChunkTimeout))

		case chunk, ok := <-upstream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fail(fmt.Errorf("%w: stream closed before completion", ports.ErrEngineUnavailable))
			}
			if timer != nil {
				timer.Reset(t.settings.ChunkTimeout)
			}

			if chunk.Err != nil {
				return fail(fmt.Errorf("provider stream failed: %w", chunk.Err))
			}

			if chunk.DeltaText != "" {
				answer.WriteString(chunk.DeltaText)
				if !emit(ports.CompletionChunk{DeltaText: chunk.DeltaText}) {
					return ctx.Err()
				}
			}

			if chunk.Done {
				if err := o.persist(ctx, t, answer.String()); err != nil {
					o.logger.Error().Err(err).Str("session_id", t.handle.ID()).Msg("Failed to append turn")
					return fail(fmt.Errorf("failed to append turn: %w", err))
				}
				emit(ports.CompletionChunk{Done: true, Usage: chunk.Usage})
				return nil
			}
		}
	}
}

// History returns the stored transcript of a session.
func (o *ChatOrchestrator) History(ctx context.Context, sessionID string) ([]ports.Turn, error) {
	return o.sessions.Turns(ctx, sessionID)
}

// Evict deletes a session once its in-flight turn, if any, has finished.
func (o *ChatOrchestrator) Evict(ctx context.Context, sessionID string) error {
	if err := o.sessions.Evict(ctx, sessionID); err != nil {
		return err
	}
	o.forget(sessionID)
	return nil
}

// Sweep evicts sessions idle for longer than idle, together with their rate
// limiter state.
func (o *ChatOrchestrator) Sweep(ctx context.Context, idle time.Duration) ([]string, error) {
	evicted, err := o.sessions.Sweep(ctx, idle)
	for _, id := range evicted {
		o.forget(id)
	}
	return evicted, err
}

func (o *ChatOrchestrator) forget(sessionID string) {
	if f, ok := o.limiter.(interface{ Forget(key string) }); ok {
		f.Forget(sessionID)
	}
}

// Shutdown refuses new turns and waits for in-flight streams to finish or ctx to expire.
func (o *ChatOrchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("in-flight streams did not finish"), ctx.Err())
	}
}
