package adapters

import (
	"context"
	"slices"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// MemoryConversationStore keeps transcripts in process memory. Distinct
// conversations never contend on a shared lock.
type MemoryConversationStore struct {
	transcripts sync.Map // conversationID -> *memoryTranscript
	now         func() time.Time
}

type memoryTranscript struct {
	mu         sync.Mutex
	turns      []ports.Turn
	lastActive time.Time
	deleted    bool // set under mu once the entry has left the map
}

// NewMemoryConversationStore creates an empty in-memory store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{now: time.Now}
}

func (s *MemoryConversationStore) load(conversationID string) (*memoryTranscript, bool) {
	v, ok := s.transcripts.Load(conversationID)
	if !ok {
		return nil, false
	}
	return v.(*memoryTranscript), true
}

// lockLive returns the transcript for conversationID, created if missing, with
// its mutex held. Entries deleted concurrently are never written to.
func (s *MemoryConversationStore) lockLive(conversationID string) *memoryTranscript {
	for {
		t, ok := s.load(conversationID)
		if !ok {
			v, _ := s.transcripts.LoadOrStore(conversationID, &memoryTranscript{lastActive: s.now()})
			t = v.(*memoryTranscript)
		}
		t.mu.Lock()
		if !t.deleted {
			return t
		}
		t.mu.Unlock()
	}
}

// Ensure creates an empty transcript for conversationID if none exists.
func (s *MemoryConversationStore) Ensure(ctx context.Context, conversationID string) error {
	t := s.lockLive(conversationID)
	t.lastActive = s.now()
	t.mu.Unlock()
	return nil
}

// Exists reports whether a transcript exists.
func (s *MemoryConversationStore) Exists(ctx context.Context, conversationID string) (bool, error) {
	_, ok := s.load(conversationID)
	return ok, nil
}

// LoadTurns returns a copy of the transcript. Unknown ids yield an empty slice.
func (s *MemoryConversationStore) LoadTurns(ctx context.Context, conversationID string) ([]ports.Turn, error) {
	t, ok := s.load(conversationID)
	if !ok {
		return []ports.Turn{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.turns), nil
}

// SaveTurns appends turns under one lock acquisition.
func (s *MemoryConversationStore) SaveTurns(ctx context.Context, conversationID string, turns ...ports.Turn) error {
	t := s.lockLive(conversationID)
	defer t.mu.Unlock()

	now := s.now()
	for _, turn := range turns {
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = now
		}
		t.turns = append(t.turns, turn)
	}
	t.lastActive = now
	return nil
}

// Delete drops the transcript.
func (s *MemoryConversationStore) Delete(ctx context.Context, conversationID string) error {
	if t, ok := s.load(conversationID); ok {
		t.mu.Lock()
		s.remove(conversationID, t)
		t.mu.Unlock()
	}
	return nil
}

// remove takes t out of the map. t.mu must be held.
func (s *MemoryConversationStore) remove(conversationID string, t *memoryTranscript) {
	t.deleted = true
	s.transcripts.CompareAndDelete(conversationID, t)
}

// IdleSince lists transcripts last touched before cutoff.
func (s *MemoryConversationStore) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	s.transcripts.Range(func(key, value any) bool {
		t := value.(*memoryTranscript)
		t.mu.Lock()
		if t.lastActive.Before(cutoff) {
			ids = append(ids, key.(string))
		}
		t.mu.Unlock()
		return ctx.Err() == nil
	})
	return ids, ctx.Err()
}

// DeleteIfIdle re-checks the activity time under the transcript's own lock. An
// append that got there first keeps the transcript alive.
func (s *MemoryConversationStore) DeleteIfIdle(ctx context.Context, conversationID string, cutoff time.Time) (bool, error) {
	t, ok := s.load(conversationID)
	if !ok {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deleted || !t.lastActive.Before(cutoff) {
		return false, nil
	}
	s.remove(conversationID, t)
	return true, nil
}

// Close releases nothing; the store lives as long as the process.
func (s *MemoryConversationStore) Close() error { return nil }

var _ ports.ConversationStore = (*MemoryConversationStore)(nil)
