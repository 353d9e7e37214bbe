package memory

import (
	"context"
	"time"
)

// Record is one embedded memory unit. Records are never mutated, only
// upserted under the same id or deleted.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
}

// Metadata is stored alongside every record.
type Metadata struct {
	// Timestamp is RFC 3339. Unparsable values are eligible for retention cleanup.
	Timestamp        string `json:"timestamp"`
	ConversationID   string `json:"conversation_id"`
	SessionID        string `json:"session_id"`
	Agent            string `json:"agent"`
	UserMessage      string `json:"user_message"`
	AssistantMessage string `json:"assistant_message"`
	ChunkIndex       int    `json:"chunk_index"`
}

// Time parses the record timestamp.
func (m Metadata) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, m.Timestamp)
}

// Match is a query hit.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// QueryOptions filter a similarity query.
type QueryOptions struct {
	TopK int
	// ExcludeSession drops records written by this session.
	ExcludeSession string
	// Agent restricts results to one agent when set.
	Agent string
}

// Accepts reports whether r passes the filters.
func (o QueryOptions) Accepts(r Record) bool {
	if o.ExcludeSession != "" && r.Metadata.SessionID == o.ExcludeSession {
		return false
	}
	if o.Agent != "" && r.Metadata.Agent != o.Agent {
		return false
	}
	return true
}

// VectorStore is the vector-indexed memory collection. The Store worker is
// its only writer.
type VectorStore interface {
	Upsert(ctx context.Context, records ...Record) error
	Query(ctx context.Context, vec []float32, opts QueryOptions) ([]Match, error)
	All(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, ids ...string) (int, error)
}

// Embedder turns texts into vectors, one per input in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var _ VectorStore = (*InMemoryStore)(nil)
