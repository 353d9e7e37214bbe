package core

import (
	"context"
	"time"
)

// ConversationStore is the durable, append-only conversation log.
//
// Implementations must be safe for concurrent use. Failures are treated as
// best-effort by the orchestrator: logged, never surfaced to the turn.
type ConversationStore interface {
	StartConversation(ctx context.Context) (string, error)
	// AppendMessages appends msgs to the log. With replace the existing log is
	// discarded first (used after a rewind).
	AppendMessages(ctx context.Context, id string, msgs []Message, replace bool) error
	// History returns ErrConversationNotFound for unknown ids.
	History(ctx context.Context, id string) ([]Message, error)
	List(ctx context.Context) ([]ConversationSummary, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ConversationSummary describes a stored conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// ConversationTurn marks where a user turn began, used for rewind.
type ConversationTurn struct {
	UserInputPreview string `json:"user_input_preview"`
	MessageIndex     int    `json:"message_index"`
	// Agent was active when the turn began.
	Agent string `json:"agent"`
}

// TitleFromText derives a short conversation title or input preview.
func TitleFromText(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "…"
}
