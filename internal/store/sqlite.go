// Package store provides storage backends for the reply engine.
//
// This file implements the SQLite-backed store, the default for single-node
// deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/gulfdesk/replyengine/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists engine data in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// If the parent directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadState(ctx context.Context, conversationID int64) ([]byte, int64, error) {
	var blob string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT blob, version FROM conversation_state WHERE conversation_id = ?`,
		conversationID,
	).Scan(&blob, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load state for conversation %d failed: %w", conversationID, err)
	}
	return []byte(blob), version, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error) {
	now := time.Now()
	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversation_state (conversation_id, blob, version, updated_at)
			 VALUES (?, ?, 1, ?) ON CONFLICT (conversation_id) DO NOTHING`,
			conversationID, string(blob), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert state for conversation %d failed: %w", conversationID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversation_state SET blob = ?, version = version + 1, updated_at = ?
		 WHERE conversation_id = ? AND version = ?`,
		string(blob), now, conversationID, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("update state for conversation %d failed: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

func (s *SQLiteStore) ResetState(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_state WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("reset state for conversation %d failed: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) FindByInbound(ctx context.Context, conversationID, inboundMessageID int64) (*models.ReplyLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, inbound_message_id, action, template_key, question_key,
		        reason, extracted, reply_key, reply_preview, created_at
		 FROM reply_log
		 WHERE conversation_id = ? AND inbound_message_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		conversationID, inboundMessageID,
	)
	entry, err := scanReplyLogRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reply log for conversation %d inbound %d failed: %w", conversationID, inboundMessageID, err)
	}
	return entry, nil
}

func (s *SQLiteStore) AppendReplyLog(ctx context.Context, entry models.ReplyLogEntry) error {
	extracted, err := json.Marshal(entry.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted fields failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reply_log (id, conversation_id, inbound_message_id, action, template_key,
		                        question_key, reason, extracted, reply_key, reply_preview, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, entry.InboundMessageID, string(entry.Action),
		string(entry.TemplateKey), nilIfEmpty(entry.QuestionKey), entry.Reason,
		string(extracted), entry.ReplyKey, entry.ReplyPreview, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append reply log failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.HistoryMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, body, created_at FROM (
		     SELECT id, direction, body, created_at FROM messages
		     WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for conversation %d failed: %w", conversationID, err)
	}
	defer rows.Close()
	return scanHistoryMessages(rows)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID int64, direction, body string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, direction, body, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, direction, body, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("append message for conversation %d failed: %w", conversationID, err)
	}
	return res.LastInsertId()
}
