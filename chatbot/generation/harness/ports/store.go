package harnessports

import (
	"context"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn represents one message in a conversation. Turns are immutable once stored.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore persists the ordered transcript of every session.
type ConversationStore interface {
	// Ensure creates an empty transcript for id if none exists.
	Ensure(ctx context.Context, conversationID string) error
	// Exists reports whether a transcript exists for id.
	Exists(ctx context.Context, conversationID string) (bool, error)
	// LoadTurns returns a copy of the transcript in insertion order.
	LoadTurns(ctx context.Context, conversationID string) ([]Turn, error)
	// SaveTurns appends turns to the transcript as one unit.
	SaveTurns(ctx context.Context, conversationID string, turns ...Turn) error
	// Delete drops the transcript. Deleting an unknown id is not an error.
	Delete(ctx context.Context, conversationID string) error
	// IdleSince lists transcripts whose last activity is before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
	// DeleteIfIdle drops the transcript only if it is still idle since cutoff,
	// and reports whether it did.
	DeleteIfIdle(ctx context.Context, conversationID string, cutoff time.Time) (bool, error)
	Close() error
}
