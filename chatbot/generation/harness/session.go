package harness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionManager issues session identifiers and hands out exclusive access to
// the transcript behind each one.
type SessionManager struct {
	store         ports.ConversationStore
	locks         *keyedLocker
	issued        sync.Map // id -> time.Time of issuance
	requireIssued atomic.Bool
	now           func() time.Time
	logger        zerolog.Logger
}

// NewSessionManager creates a manager over store. With requireIssued set, Resolve
// rejects identifiers that were neither issued here nor already stored.
func NewSessionManager(store ports.ConversationStore, requireIssued bool, logger zerolog.Logger) *SessionManager {
	m := &SessionManager{
		store:  store,
		locks:  newKeyedLocker(),
		now:    time.Now,
		logger: logger.With().Str("component", "session_manager").Logger(),
	}
	m.requireIssued.Store(requireIssued)
	return m
}

// SetRequireIssued toggles issuance enforcement at runtime.
func (m *SessionManager) SetRequireIssued(v bool) {
	m.requireIssued.Store(v)
}

// CreateSession returns a fresh random UUID. Nothing is stored until the
// identifier is first used.
func (m *SessionManager) CreateSession() string {
	id := uuid.NewString()
	m.issued.Store(id, m.now())
	m.logger.Debug().Str("session_id", id).Msg("Session issued")
	return id
}

// Validate checks id without creating or locking anything.
func (m *SessionManager) Validate(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoActiveSession
	}
	if !m.requireIssued.Load() {
		return nil
	}
	if _, ok := m.issued.Load(id); ok {
		return nil
	}
	exists, err := m.store.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if !exists {
		return ErrUnknownSession
	}
	return nil
}

// Resolve waits for exclusive access to the session and returns a handle to its
// transcript, creating an empty one on first use. Callers must Release the handle.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*Transcript, error) {
	if err := m.Validate(ctx, id); err != nil {
		return nil, err
	}

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("waiting for session %s: %w", id, err)
	}

	if err := m.store.Ensure(ctx, id); err != nil {
		unlock()
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	return &Transcript{id: id, store: m.store, release: unlock}, nil
}

// Turns returns the stored transcript without taking the session lock.
func (m *SessionManager) Turns(ctx context.Context, id string) ([]ports.Turn, error) {
	if err := m.Validate(ctx, id); err != nil {
		return nil, err
	}
	return m.store.LoadTurns(ctx, id)
}

// Evict waits for any in-flight turn on id to finish, then forgets the session.
func (m *SessionManager) Evict(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoActiveSession
	}

	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("waiting for session %s: %w", id, err)
	}
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	m.issued.Delete(id)
	m.logger.Debug().Str("session_id", id).Msg("Session evicted")
	return nil
}

// Sweep evicts transcripts idle for longer than idle and forgets issued
// identifiers that were never used within that window. Sessions with a turn in
// flight are skipped and looked at again on the next sweep.
func (m *SessionManager) Sweep(ctx context.Context, idle time.Duration) ([]string, error) {
	if idle <= 0 {
		return nil, nil
	}
	cutoff := m.now().Add(-idle)

	candidates, err := m.store.IdleSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep transcripts: %w", err)
	}

	var evicted []string
	for _, id := range candidates {
		if ctx.Err() != nil {
			break
		}
		unlock, ok := m.locks.TryLock(id)
		if !ok {
			continue
		}
		deleted, err := m.store.DeleteIfIdle(ctx, id, cutoff)
		unlock()
		if err != nil {
			return evicted, fmt.Errorf("failed to evict %s: %w", id, err)
		}
		if deleted {
			m.issued.Delete(id)
			evicted = append(evicted, id)
		}
	}

	m.issued.Range(func(key, value any) bool {
		if value.(time.Time).Before(cutoff) {
			if ok, err := m.store.Exists(ctx, key.(string)); err == nil && !ok {
				m.issued.Delete(key)
			}
		}
		return ctx.Err() == nil
	})

	if len(evicted) > 0 {
		m.logger.Info().Int("count", len(evicted)).Dur("idle", idle).Msg("Swept idle sessions")
	}
	return evicted, nil
}

// Transcript is exclusive access to one session's history, valid until Release.
type Transcript struct {
	id      string
	store   ports.ConversationStore
	release func()
	once    sync.Once
}

func (t *Transcript) ID() string { return t.id }

// Turns returns a copy of the transcript in append order.
func (t *Transcript) Turns(ctx context.Context) ([]ports.Turn, error) {
	return t.store.LoadTurns(ctx, t.id)
}

// Append adds turns to the end of the transcript as one unit.
func (t *Transcript) Append(ctx context.Context, turns ...ports.Turn) error {
	return t.store.SaveTurns(ctx, t.id, turns...)
}

// Release gives up exclusive access. Calling it more than once is harmless.
func (t *Transcript) Release() {
	t.once.Do(t.release)
}
