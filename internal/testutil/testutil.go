// Package testutil provides common test utilities and helpers for reply
// engine tests.
package testutil

import (
	"context"
	"testing"

	"github.com/gulfdesk/replyengine/internal/engine"
	"github.com/gulfdesk/replyengine/internal/fsm"
	"github.com/gulfdesk/replyengine/internal/models"
	"github.com/gulfdesk/replyengine/internal/store"
	"github.com/gulfdesk/replyengine/internal/templates"
)

// NewTestEngine creates an engine over a fresh in-memory store, returning
// both so tests can seed history or inspect persisted state.
func NewTestEngine() (*engine.Engine, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	eng := engine.New(fsm.NewManager(st), st, st, templates.BuiltinCatalog{}, nil)
	return eng, st
}

// MustReply runs GenerateReply and fails the test on error.
func MustReply(t *testing.T, eng *engine.Engine, req models.ReplyRequest) *models.ReplyResult {
	t.Helper()
	result, err := eng.GenerateReply(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateReply(%+v) failed: %v", req, err)
	}
	if result == nil {
		t.Fatalf("GenerateReply(%+v) returned nil result", req)
	}
	return result
}

// LoadState reads a conversation's persisted state through a fresh manager
// and fails the test on error.
func LoadState(t *testing.T, st store.StateStore, conversationID int64) models.ConversationState {
	t.Helper()
	state, err := fsm.NewManager(st).Load(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("load state for conversation %d failed: %v", conversationID, err)
	}
	return state
}
