package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gulfdesk/replyengine/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanReplyLogRow scans a ReplyLogEntry from a single row.
func scanReplyLogRow(row rowScanner) (*models.ReplyLogEntry, error) {
	var e models.ReplyLogEntry
	var questionKey, extracted sql.NullString
	err := row.Scan(
		&e.ID, &e.ConversationID, &e.InboundMessageID, &e.Action, &e.TemplateKey,
		&questionKey, &e.Reason, &extracted, &e.ReplyKey, &e.ReplyPreview, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.QuestionKey = questionKey.String
	if extracted.Valid && extracted.String != "" {
		if err := json.Unmarshal([]byte(extracted.String), &e.Extracted); err != nil {
			// Extracted snapshot is debugging aid only; a bad row must not
			// break the duplicate check.
			slog.Warn("scanReplyLogRow: malformed extracted snapshot", "error", err, "id", e.ID)
		}
	}
	return &e, nil
}

// scanHistoryMessages drains rows into a HistoryMessage slice.
func scanHistoryMessages(rows *sql.Rows) ([]models.HistoryMessage, error) {
	var out []models.HistoryMessage
	for rows.Next() {
		var m models.HistoryMessage
		if err := rows.Scan(&m.ID, &m.Direction, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages failed: %w", err)
	}
	return out, nil
}
