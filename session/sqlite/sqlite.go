// Package sqlite provides a core.ConversationStore persisted in a SQLite
// database using modernc.org/sqlite. Messages are stored one row each, in
// append order, as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/session"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Store implements core.ConversationStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at path. The schema is created if it
// doesn't exist and parent directories are created if needed.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("session: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
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
			return nil, fmt.Errorf("session: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL DEFAULT 'Untitled',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT    NOT NULL,
			seq             INTEGER NOT NULL,
			body            TEXT    NOT NULL,
			PRIMARY KEY (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
	`)
	return err
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// StartConversation implements core.ConversationStore.
func (s *Store) StartConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	ts := s.timestamp()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)", id, ts, ts); err != nil {
		return "", fmt.Errorf("session: start conversation: %w", err)
	}
	return id, nil
}

// AppendMessages implements core.ConversationStore.
func (s *Store) AppendMessages(ctx context.Context, id string, msgs []core.Message, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("session: lookup %s: %w", id, err)
	}
	if exists == 0 {
		return core.ErrConversationNotFound
	}

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
			return fmt.Errorf("session: truncate %s: %w", id, err)
		}
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE conversation_id = ?", id).Scan(&next); err != nil {
		return fmt.Errorf("session: next seq: %w", err)
	}

	for i, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("session: encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (conversation_id, seq, body) VALUES (?, ?, ?)", id, next+i, string(body)); err != nil {
			return fmt.Errorf("session: append message: %w", err)
		}
	}

	history, err := readMessages(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		session.Title(history), s.timestamp(), id); err != nil {
		return fmt.Errorf("session: touch %s: %w", id, err)
	}

	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readMessages(ctx context.Context, q queryer, id string) ([]core.Message, error) {
	rows, err := q.QueryContext(ctx, "SELECT body FROM messages WHERE conversation_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("session: read messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("session: scan message: %w", err)
		}
		var m core.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("session: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// History implements core.ConversationStore.
func (s *Store) History(ctx context.Context, id string) ([]core.Message, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations WHERE id = ?", id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("session: lookup %s: %w", id, err)
	}
	if exists == 0 {
		return nil, core.ErrConversationNotFound
	}
	return readMessages(ctx, s.db, id)
}

// List implements core.ConversationStore.
func (s *Store) List(ctx context.Context) ([]core.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(m.seq)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []core.ConversationSummary
	for rows.Next() {
		var (
			sum              core.ConversationSummary
			created, updated string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &created, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("session: scan summary: %w", err)
		}
		sum.Created, _ = time.Parse(time.RFC3339Nano, created)
		sum.Updated, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	session.SortSummaries(out)
	return out, nil
}

// Delete implements core.ConversationStore.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("session: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var _ core.ConversationStore = (*Store)(nil)
