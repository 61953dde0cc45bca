package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/samsaffron/term-agent/internal/llm"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// SQLiteStore records transcripts. It satisfies the conversation recorder
// contract through StartSession and Append.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    cwd TEXT,
    summary TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'tool')),
    parts TEXT NOT NULL,
    text_content TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    sequence INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_sequence ON messages(session_id, sequence);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    text_content,
    content='messages',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, text_content) VALUES (new.id, new.text_content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text_content) VALUES ('delete', old.id, old.text_content);
END;
`

// Open opens (creating if needed) the database at path.
func Open(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	log.Debug().Str("path", path).Msg("transcript store opened")
	return &SQLiteStore{db: db, log: log}, nil
}

// StartSession creates the session row. Starting an existing session is a
// no-op.
func (s *SQLiteStore) StartSession(ctx context.Context, id, model string) error {
	cwd, _ := os.Getwd()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (id, model, cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, model, nullString(cwd), now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Append adds a history entry at the next sequence number. The first user
// message becomes the session summary.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg llm.Message) error {
	m := newMessage(sessionID, msg)
	partsJSON, err := m.partsJSON()
	if err != nil {
		return fmt.Errorf("serialize parts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM messages WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("get max sequence: %w", err)
	}
	if maxSeq.Valid {
		m.Sequence = int(maxSeq.Int64) + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, parts, text_content, created_at, sequence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(m.Role), partsJSON, m.TextContent, m.CreatedAt, m.Sequence); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if m.Role == llm.RoleUser {
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET updated_at = ?, summary = COALESCE(summary, ?) WHERE id = ?`,
			time.Now(), TruncateSummary(m.TextContent), sessionID)
	} else {
		_, err = tx.ExecContext(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now(), sessionID)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get loads one session.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess         Session
		cwd, summary sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model, cwd, summary, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Model, &cwd, &summary, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.CWD = cwd.String
	sess.Summary = summary.String
	return &sess, nil
}

// List returns the most recently updated sessions first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.model, s.cwd, s.summary, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum          Summary
			cwd, summary sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.Model, &cwd, &summary, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		sum.CWD = cwd.String
		sum.Summary = summary.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Messages returns a session's history in order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, parts, text_content, created_at, sequence
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			partsJSON string
			text      sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &partsJSON, &text, &m.CreatedAt, &m.Sequence); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.TextContent = text.String
		if err := m.setPartsJSON(partsJSON); err != nil {
			return nil, fmt.Errorf("deserialize parts: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Search finds messages matching an FTS5 query.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.id, COALESCE(s.summary, ''), snippet(messages_fts, 0, '**', '**', '...', 32), m.created_at
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SessionID, &r.MessageID, &r.Summary, &r.Snippet, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
