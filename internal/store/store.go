// Package store provides storage backends for the reply engine.
//
// Three narrow interfaces cover the engine's collaborators: versioned
// conversation state blobs, the append-only reply log, and the message
// history reader. SQLite is the default backend, PostgreSQL serves shared
// deployments, the in-memory store serves tests and DSN-less dev mode, and
// Redis offers a cache-backed StateStore.
package store

import (
	"context"
	"errors"

	"github.com/gulfdesk/replyengine/internal/models"
)

// ErrVersionConflict is returned by SaveState when the stored version no
// longer matches the expected one (a concurrent writer won the race).
var ErrVersionConflict = errors.New("conversation state version conflict")

// StateStore persists per-conversation FSM state blobs with optimistic
// concurrency. LoadState returns (nil, 0, nil) when no blob exists yet.
type StateStore interface {
	LoadState(ctx context.Context, conversationID int64) (blob []byte, version int64, err error)

	// SaveState writes the blob if the stored version still equals
	// expectedVersion (0 means "no row yet"). Returns the new version or
	// ErrVersionConflict.
	SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error)

	// ResetState removes the stored blob so the next load yields the default
	// state. Used by operators and tests only.
	ResetState(ctx context.Context, conversationID int64) error
}

// ReplyLogStore is the append-only audit/idempotency log. FindByInbound
// returns (nil, nil) when no entry exists for the pair.
type ReplyLogStore interface {
	FindByInbound(ctx context.Context, conversationID, inboundMessageID int64) (*models.ReplyLogEntry, error)
	AppendReplyLog(ctx context.Context, entry models.ReplyLogEntry) error
}

// HistoryStore reads and records conversation messages. RecentMessages
// returns up to limit messages ordered oldest-first.
type HistoryStore interface {
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]models.HistoryMessage, error)
	AppendMessage(ctx context.Context, conversationID int64, direction, body string) (int64, error)
}

// Store combines every storage concern the engine composes.
type Store interface {
	StateStore
	ReplyLogStore
	HistoryStore
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN       string // database connection string (file path for SQLite)
	RedisAddr string // host:port for the Redis state store
	RedisDB   int
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithRedisAddr sets the Redis address for the cache-backed state store.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
	}
}

// WithRedisDB selects the Redis logical database.
func WithRedisDB(db int) Option {
	return func(o *Opts) {
		o.RedisDB = db
	}
}
