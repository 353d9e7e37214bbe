// Package sqlite provides a memory.VectorStore persisted in a SQLite
// database. Embeddings are stored as little-endian float32 blobs; metadata
// filters run in SQL and similarity ranking runs in Go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrelay/memory"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store is a SQLite-backed memory.VectorStore.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("memory: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id                TEXT PRIMARY KEY,
			text              TEXT    NOT NULL,
			embedding         BLOB    NOT NULL,
			dims              INTEGER NOT NULL,
			timestamp         TEXT    NOT NULL DEFAULT '',
			conversation_id   TEXT    NOT NULL DEFAULT '',
			session_id        TEXT    NOT NULL DEFAULT '',
			agent             TEXT    NOT NULL DEFAULT '',
			user_message      TEXT    NOT NULL DEFAULT '',
			assistant_message TEXT    NOT NULL DEFAULT '',
			chunk_index       INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_memories_agent        ON memories(agent);
		CREATE INDEX IF NOT EXISTS idx_memories_session      ON memories(session_id);
		CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);
	`)
	return err
}

// Upsert implements memory.VectorStore.
func (s *Store) Upsert(ctx context.Context, records ...memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memories (id, text, embedding, dims, timestamp, conversation_id, session_id, agent, user_message, assistant_message, chunk_index)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			dims = excluded.dims,
			timestamp = excluded.timestamp,
			conversation_id = excluded.conversation_id,
			session_id = excluded.session_id,
			agent = excluded.agent,
			user_message = excluded.user_message,
			assistant_message = excluded.assistant_message,
			chunk_index = excluded.chunk_index`)
	if err != nil {
		return fmt.Errorf("memory: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		m := r.Metadata
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, encodeVector(r.Embedding), len(r.Embedding),
			m.Timestamp, m.ConversationID, m.SessionID, m.Agent, m.UserMessage, m.AssistantMessage, m.ChunkIndex); err != nil {
			return fmt.Errorf("memory: upsert %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

const selectColumns = `id, text, embedding, timestamp, conversation_id, session_id, agent, user_message, assistant_message, chunk_index`

// Query implements memory.VectorStore.
func (s *Store) Query(ctx context.Context, vec []float32, opts memory.QueryOptions) ([]memory.Match, error) {
	var (
		where []string
		args  []any
	)
	if opts.ExcludeSession != "" {
		where = append(where, "session_id <> ?")
		args = append(args, opts.ExcludeSession)
	}
	if opts.Agent != "" {
		where = append(where, "agent = ?")
		args = append(args, opts.Agent)
	}
	where = append(where, "dims = ?")
	args = append(args, len(vec))

	q := "SELECT " + selectColumns + " FROM memories WHERE " + strings.Join(where, " AND ")

	records, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}

	matches := make([]memory.Match, len(records))
	for i, r := range records {
		matches[i] = memory.Match{Record: r, Score: memory.Cosine(vec, r.Embedding)}
	}

	memory.SortMatches(matches)
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// All implements memory.VectorStore.
func (s *Store) All(ctx context.Context) ([]memory.Record, error) {
	return s.query(ctx, "SELECT "+selectColumns+" FROM memories ORDER BY id")
}

// Delete implements memory.VectorStore.
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("memory: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
		if err != nil {
			return 0, fmt.Errorf("memory: delete %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		n += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("memory: commit: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]memory.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		var (
			r    memory.Record
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &blob, &r.Metadata.Timestamp, &r.Metadata.ConversationID,
			&r.Metadata.SessionID, &r.Metadata.Agent, &r.Metadata.UserMessage, &r.Metadata.AssistantMessage,
			&r.Metadata.ChunkIndex); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		if r.Embedding, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("memory: record %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("corrupt embedding blob")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

var _ memory.VectorStore = (*Store)(nil)
