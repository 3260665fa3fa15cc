package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/braid-ai/braid"
)

// HistoryOption configures a SQLite History.
type HistoryOption func(*History)

// WithHistoryLogger sets a structured logger for the history.
func WithHistoryLogger(l *slog.Logger) HistoryOption {
	return func(h *History) { h.logger = l }
}

// History implements braid.ChatHistory backed by SQLite. Messages are
// stored as JSON rows keyed by a history id and ordered by insertion
// sequence; the context window is enforced by deleting the oldest rows
// after every add.
//
// Use NewHistory with a shared *sql.DB from Store.DB() so both the vector
// store and the history serialize through the same connection.
type History struct {
	db        *sql.DB
	historyID string
	window    int
	logger    *slog.Logger

	initOnce sync.Once
	initErr  error
}

var _ braid.ChatHistory = (*History)(nil)

// NewHistory creates a History over an existing *sql.DB. historyID keys
// this conversation's rows; window caps the number of retained messages
// (0 means unlimited). The schema is created on first use.
func NewHistory(db *sql.DB, historyID string, window int, opts ...HistoryOption) *History {
	h := &History{db: db, historyID: historyID, window: window, logger: nopLogger}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *History) ensureSchema(ctx context.Context) error {
	h.initOnce.Do(func() {
		ddl := []string{
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				history_id TEXT NOT NULL,
				message TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_history ON chat_messages(history_id)`,
		}
		for _, stmt := range ddl {
			if _, err := h.db.ExecContext(ctx, stmt); err != nil {
				h.initErr = fmt.Errorf("create schema: %w", err)
				return
			}
		}
	})
	return h.initErr
}

// Add appends a message and evicts the oldest rows beyond the window.
func (h *History) Add(ctx context.Context, msg braid.Message) error {
	start := time.Now()
	if err := h.ensureSchema(ctx); err != nil {
		return &braid.ChatHistoryError{Op: "add", Err: err}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &braid.ChatHistoryError{Op: "add", Err: err}
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return &braid.ChatHistoryError{Op: "add", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (history_id, message) VALUES (?, ?)`,
		h.historyID, string(data),
	); err != nil {
		return &braid.ChatHistoryError{Op: "add", Err: err}
	}

	if h.window > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chat_messages WHERE history_id = ? AND seq NOT IN (
				SELECT seq FROM chat_messages WHERE history_id = ? ORDER BY seq DESC LIMIT ?
			)`,
			h.historyID, h.historyID, h.window,
		); err != nil {
			return &braid.ChatHistoryError{Op: "add", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &braid.ChatHistoryError{Op: "add", Err: err}
	}
	h.logger.Debug("sqlite: history add ok", "history_id", h.historyID, "duration", time.Since(start))
	return nil
}

// Messages returns all retained messages, oldest first.
func (h *History) Messages(ctx context.Context) ([]braid.Message, error) {
	if err := h.ensureSchema(ctx); err != nil {
		return nil, &braid.ChatHistoryError{Op: "messages", Err: err}
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT message FROM chat_messages WHERE history_id = ? ORDER BY seq`, h.historyID)
	if err != nil {
		return nil, &braid.ChatHistoryError{Op: "messages", Err: err}
	}
	defer rows.Close()

	var out []braid.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &braid.ChatHistoryError{Op: "messages", Err: err}
		}
		var m braid.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, &braid.ChatHistoryError{Op: "messages", Err: fmt.Errorf("corrupt row: %w", err)}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &braid.ChatHistoryError{Op: "messages", Err: err}
	}
	return out, nil
}

// RemoveOldest deletes the single oldest retained message.
func (h *History) RemoveOldest(ctx context.Context) error {
	if err := h.ensureSchema(ctx); err != nil {
		return &braid.ChatHistoryError{Op: "remove oldest", Err: err}
	}
	_, err := h.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE seq = (
			SELECT MIN(seq) FROM chat_messages WHERE history_id = ?
		)`, h.historyID)
	if err != nil {
		return &braid.ChatHistoryError{Op: "remove oldest", Err: err}
	}
	return nil
}

// Clear deletes every message for this history id.
func (h *History) Clear(ctx context.Context) error {
	if err := h.ensureSchema(ctx); err != nil {
		return &braid.ChatHistoryError{Op: "clear", Err: err}
	}
	_, err := h.db.ExecContext(ctx,
		`DELETE FROM chat_messages WHERE history_id = ?`, h.historyID)
	if err != nil {
		return &braid.ChatHistoryError{Op: "clear", Err: err}
	}
	return nil
}
