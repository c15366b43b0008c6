//go:build integration

package adapters

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/streaming-chatbot/chatbot/db"
	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibSQLStore(t *testing.T) *LibSQLConversationStore {
	t.Helper()
	sqlDB, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	store := NewLibSQLConversationStore(sqlDB)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLibSQLConversationStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestLibSQLStore(t)

	require.NoError(t, store.Ensure(ctx, "s1"))
	require.NoError(t, store.Ensure(ctx, "s1"))

	ok, err := store.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.SaveTurns(ctx, "s1",
		ports.Turn{Role: ports.RoleHuman, Content: "Hi"},
		ports.Turn{Role: ports.RoleAssistant, Content: "Hello!\nHow can I help?"},
	))
	require.NoError(t, store.SaveTurns(ctx, "s1",
		ports.Turn{Role: ports.RoleHuman, Content: "Bye"},
		ports.Turn{Role: ports.RoleAssistant, Content: "Goodbye"},
	))

	turns, err := store.LoadTurns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "Hi", turns[0].Content)
	assert.Equal(t, "Hello!\nHow can I help?", turns[1].Content)
	assert.Equal(t, ports.RoleHuman, turns[2].Role)
	assert.Equal(t, "Goodbye", turns[3].Content)
}

func TestLibSQLConversationStore_DeleteAndIdle(t *testing.T) {
	ctx := context.Background()
	store := newTestLibSQLStore(t)
	now := time.Now().UTC()
	store.now = func() time.Time { return now }

	require.NoError(t, store.SaveTurns(ctx, "old", ports.Turn{Role: ports.RoleHuman, Content: "q"}))
	now = now.Add(2 * time.Hour)
	require.NoError(t, store.Ensure(ctx, "fresh"))

	cutoff := now.Add(-time.Hour)
	idle, err := store.IdleSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, idle)

	deleted, err := store.DeleteIfIdle(ctx, "fresh", cutoff)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = store.DeleteIfIdle(ctx, "old", cutoff)
	require.NoError(t, err)
	assert.True(t, deleted)

	turns, err := store.LoadTurns(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, store.Delete(ctx, "fresh"))
	ok, err := store.Exists(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, ok)
}
