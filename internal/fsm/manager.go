// Package fsm provides load/save/merge management of the per-conversation
// reply-engine state blob.
package fsm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gulfdesk/replyengine/internal/models"
	"github.com/gulfdesk/replyengine/internal/store"
)

// Manager is the single mutation path for conversation state. All writes go
// through Update so merge semantics and optimistic concurrency hold at one
// choke point.
type Manager struct {
	store store.StateStore
}

// NewManager creates a Manager backed by a StateStore.
func NewManager(st store.StateStore) *Manager {
	slog.Debug("Creating fsm.Manager")
	return &Manager{store: st}
}

// Load fetches the persisted blob and merges it onto the default state so
// older partial blobs stay valid. A missing blob yields the default state. A
// corrupt blob also yields the default state: conversational continuity is
// secondary to availability.
func (m *Manager) Load(ctx context.Context, conversationID int64) (models.ConversationState, error) {
	blob, _, err := m.store.LoadState(ctx, conversationID)
	if err != nil {
		slog.Error("Manager.Load: state load failed", "error", err, "conversationID", conversationID)
		return models.ConversationState{}, err
	}
	return decodeState(blob, conversationID), nil
}

// Save serializes and persists the full state, overwriting the prior blob.
// expectedVersion follows store.StateStore CAS semantics.
func (m *Manager) Save(ctx context.Context, conversationID int64, state models.ConversationState, expectedVersion int64) (int64, error) {
	blob, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("marshal state for conversation %d failed: %w", conversationID, err)
	}
	return m.store.SaveState(ctx, conversationID, blob, expectedVersion)
}

// Update loads the current state, merges the patch, and persists the result.
// A version conflict triggers a single reload-and-retry: the merge is
// re-applied on top of whatever the concurrent writer stored, so no collected
// answer is lost. Safe to call with an empty patch.
func (m *Manager) Update(ctx context.Context, conversationID int64, patch models.StatePatch) (models.ConversationState, error) {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		blob, version, err := m.store.LoadState(ctx, conversationID)
		if err != nil {
			slog.Error("Manager.Update: state load failed", "error", err, "conversationID", conversationID)
			return models.ConversationState{}, err
		}
		merged := Merge(decodeState(blob, conversationID), patch)

		newBlob, err := json.Marshal(merged)
		if err != nil {
			return models.ConversationState{}, fmt.Errorf("marshal state for conversation %d failed: %w", conversationID, err)
		}
		if _, err = m.store.SaveState(ctx, conversationID, newBlob, version); err != nil {
			if err == store.ErrVersionConflict {
				slog.Warn("Manager.Update: version conflict, retrying", "conversationID", conversationID, "attempt", i+1)
				lastErr = err
				continue
			}
			slog.Error("Manager.Update: state save failed", "error", err, "conversationID", conversationID)
			return models.ConversationState{}, err
		}
		return merged, nil
	}
	return models.ConversationState{}, fmt.Errorf("update state for conversation %d failed after %d attempts: %w", conversationID, attempts, lastErr)
}

// Reset overwrites the stored state with the default state. Operator and test
// use only.
func (m *Manager) Reset(ctx context.Context, conversationID int64) error {
	if err := m.store.ResetState(ctx, conversationID); err != nil {
		slog.Error("Manager.Reset failed", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("Manager.Reset: state cleared", "conversationID", conversationID)
	return nil
}

// decodeState parses a stored blob onto the default state. Parse failures are
// recovered by substituting the default state.
func decodeState(blob []byte, conversationID int64) models.ConversationState {
	state := models.DefaultState()
	if len(blob) == 0 {
		return state
	}
	if err := json.Unmarshal(blob, &state); err != nil {
		slog.Warn("decodeState: corrupt state blob, falling back to default", "error", err, "conversationID", conversationID)
		return models.DefaultState()
	}
	// Unmarshal may have nilled the default containers.
	if state.Collected == nil {
		state.Collected = map[string]any{}
	}
	if state.AskedQuestionKeys == nil {
		state.AskedQuestionKeys = []string{}
	}
	return state
}

// Merge applies a patch to a state copy and returns the result. Collected
// entries merge key-wise with non-nil incoming values winning; nil or empty
// incoming values never clear an existing answer. AskedQuestionKeys merges as
// a deduplicated union, existing order first. Scalars overwrite only when set
// on the patch.
func Merge(state models.ConversationState, patch models.StatePatch) models.ConversationState {
	out := state
	out.Collected = make(map[string]any, len(state.Collected)+len(patch.Collected))
	for k, v := range state.Collected {
		out.Collected[k] = v
	}
	for k, v := range patch.Collected {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out.Collected[k] = v
	}

	out.AskedQuestionKeys = mergeKeys(state.AskedQuestionKeys, patch.AskedQuestionKeys)

	if patch.ServiceKey != nil {
		out.ServiceKey = *patch.ServiceKey
	}
	if patch.Stage != nil {
		out.Stage = *patch.Stage
	}
	if patch.Required != nil {
		out.Required = append([]string(nil), patch.Required...)
	}
	if patch.FollowUpStep != nil {
		out.FollowUpStep = *patch.FollowUpStep
	}
	if patch.LastInboundID != nil {
		out.LastInboundID = *patch.LastInboundID
	}
	if patch.LastReplyKey != nil {
		out.LastReplyKey = *patch.LastReplyKey
	}
	if patch.Stop != nil {
		out.Stop = *patch.Stop
	}
	return out
}

// mergeKeys unions two key lists preserving stable order: existing keys first,
// then newly introduced keys in their given order.
func mergeKeys(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, k := range existing {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range incoming {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
