// Package store provides storage backends for the reply engine.
//
// This file implements the PostgreSQL-backed store for shared deployments.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/gulfdesk/replyengine/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists engine data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) LoadState(ctx context.Context, conversationID int64) ([]byte, int64, error) {
	var blob string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT blob, version FROM conversation_state WHERE conversation_id = $1`,
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

func (s *PostgresStore) SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error) {
	now := time.Now()
	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO conversation_state (conversation_id, blob, version, updated_at)
			 VALUES ($1, $2, 1, $3) ON CONFLICT (conversation_id) DO NOTHING`,
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
		`UPDATE conversation_state SET blob = $1, version = version + 1, updated_at = $2
		 WHERE conversation_id = $3 AND version = $4`,
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

func (s *PostgresStore) ResetState(ctx context.Context, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_state WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("reset state for conversation %d failed: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) FindByInbound(ctx context.Context, conversationID, inboundMessageID int64) (*models.ReplyLogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, inbound_message_id, action, template_key, question_key,
		        reason, extracted, reply_key, reply_preview, created_at
		 FROM reply_log
		 WHERE conversation_id = $1 AND inbound_message_id = $2
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

func (s *PostgresStore) AppendReplyLog(ctx context.Context, entry models.ReplyLogEntry) error {
	extracted, err := json.Marshal(entry.Extracted)
	if err != nil {
		return fmt.Errorf("marshal extracted fields failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reply_log (id, conversation_id, inbound_message_id, action, template_key,
		                        question_key, reason, extracted, reply_key, reply_preview, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.ConversationID, entry.InboundMessageID, string(entry.Action),
		string(entry.TemplateKey), nilIfEmpty(entry.QuestionKey), entry.Reason,
		string(extracted), entry.ReplyKey, entry.ReplyPreview, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append reply log failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.HistoryMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, direction, body, created_at FROM (
		     SELECT id, direction, body, created_at FROM messages
		     WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
		 ) recent ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for conversation %d failed: %w", conversationID, err)
	}
	defer rows.Close()
	return scanHistoryMessages(rows)
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID int64, direction, body string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, direction, body, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		conversationID, direction, body, time.Now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append message for conversation %d failed: %w", conversationID, err)
	}
	return id, nil
}
