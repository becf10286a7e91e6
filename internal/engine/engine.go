// Package engine composes the state manager, extractor, planner, and template
// renderer into the reply orchestrator. GenerateReply is the module's single
// entry point: one inbound message in, at most one reply out.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gulfdesk/replyengine/internal/extract"
	"github.com/gulfdesk/replyengine/internal/fsm"
	"github.com/gulfdesk/replyengine/internal/models"
	"github.com/gulfdesk/replyengine/internal/plan"
	"github.com/gulfdesk/replyengine/internal/store"
	"github.com/gulfdesk/replyengine/internal/templates"
)

// DefaultHistoryLimit bounds how many prior messages feed the extractor.
const DefaultHistoryLimit = 50

// Skip reasons surfaced in the debug payload.
const (
	ReasonDuplicateInbound  = "duplicate inbound"
	ReasonDuplicateReplyKey = "duplicate replyKey"
	ReasonStopped           = "conversation stopped"
)

// Engine is the reply orchestrator. The reply log store and the polisher are
// optional: without a log store the engine relies on the state-embedded
// reply-key check alone, and without a polisher useLLM requests degrade to
// verbatim templates.
type Engine struct {
	states       *fsm.Manager
	history      store.HistoryStore
	replyLog     store.ReplyLogStore
	catalog      templates.Catalog
	polisher     templates.Polisher
	historyLimit int
}

// New creates an Engine. history is required; replyLog and polisher may be nil.
func New(states *fsm.Manager, history store.HistoryStore, replyLog store.ReplyLogStore, catalog templates.Catalog, polisher templates.Polisher) *Engine {
	slog.Debug("Creating engine", "hasReplyLog", replyLog != nil, "hasPolisher", polisher != nil)
	return &Engine{
		states:       states,
		history:      history,
		replyLog:     replyLog,
		catalog:      catalog,
		polisher:     polisher,
		historyLimit: DefaultHistoryLimit,
	}
}

// SetHistoryLimit overrides how many prior messages feed extraction.
func (e *Engine) SetHistoryLimit(limit int) {
	e.historyLimit = limit
}

// GenerateReply decides the reply for one inbound message. Exactly one call
// per inbound message returns Skipped=false; duplicate deliveries, duplicate
// planner decisions, and stopped conversations return Skipped=true with a
// reason. State save failures propagate; audit logging and history reads are
// best-effort.
func (e *Engine) GenerateReply(ctx context.Context, req models.ReplyRequest) (*models.ReplyResult, error) {
	req.ApplyDefaults()
	slog.Debug("Engine.GenerateReply: start", "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID, "channel", req.Channel)

	// Durable duplicate-delivery check, before any state work. The log store
	// is an optional durability layer; its absence or failure only weakens
	// dedupe to the state-embedded reply-key check below.
	if prior := e.findPriorEntry(ctx, req); prior != nil {
		slog.Info("Engine.GenerateReply: duplicate inbound, replaying logged reply", "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID, "replyKey", prior.ReplyKey)
		return &models.ReplyResult{
			Text:     prior.ReplyPreview,
			ReplyKey: prior.ReplyKey,
			Debug: models.ReplyDebug{
				Plan: models.Plan{
					Action:      prior.Action,
					TemplateKey: prior.TemplateKey,
					QuestionKey: prior.QuestionKey,
					Reason:      prior.Reason,
				},
				ExtractedFields: prior.Extracted,
				TemplateKey:     prior.TemplateKey,
				Skipped:         true,
				Reason:          ReasonDuplicateInbound,
			},
		}, nil
	}

	state, err := e.states.Load(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d state failed: %w", req.ConversationID, err)
	}

	if state.Stop.Enabled {
		slog.Debug("Engine.GenerateReply: conversation stopped, skipping", "conversationID", req.ConversationID, "stopReason", state.Stop.Reason)
		return &models.ReplyResult{
			Debug: models.ReplyDebug{
				Plan:    models.Plan{Action: models.ActionStop, Reason: state.Stop.Reason},
				Skipped: true,
				Reason:  ReasonStopped,
			},
		}, nil
	}

	// State-embedded duplicate check: catches redeliveries that the log
	// store missed (log write failed, or no log store configured).
	if state.LastInboundID == fmt.Sprintf("%d", req.InboundMessageID) && state.LastInboundID != "" {
		slog.Info("Engine.GenerateReply: FSM already advanced on this inbound, skipping", "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID)
		return &models.ReplyResult{
			ReplyKey: state.LastReplyKey,
			Debug: models.ReplyDebug{
				Skipped: true,
				Reason:  ReasonDuplicateInbound,
			},
		}, nil
	}

	if sent, _ := state.Collected[models.FieldGreetingSent].(bool); !sent {
		return e.sendGreeting(ctx, req, state)
	}

	history := e.loadHistory(ctx, req.ConversationID)
	extracted := extract.Extract(combineText(req.InboundText, history))
	isFirst := len(history) == 0

	p := plan.Plan(state, req.InboundText, extracted, isFirst)
	slog.Debug("Engine.GenerateReply: planned", "conversationID", req.ConversationID, "action", p.Action, "templateKey", p.TemplateKey, "questionKey", p.QuestionKey, "reason", p.Reason)

	text, err := templates.FinalText(ctx, e.catalog, p.TemplateKey, e.templateVars(req, state, extracted), req.UseLLM, e.polisher)
	if err != nil {
		return nil, fmt.Errorf("render template %s failed: %w", p.TemplateKey, err)
	}

	replyKey := ComputeReplyKey(req.ConversationID, req.InboundMessageID, p.Action, p.TemplateKey, p.QuestionKey)
	if replyKey == state.LastReplyKey {
		slog.Info("Engine.GenerateReply: reply key matches last outbound, skipping", "conversationID", req.ConversationID, "replyKey", replyKey)
		return &models.ReplyResult{
			Text:     text,
			ReplyKey: replyKey,
			Debug: models.ReplyDebug{
				Plan:            p,
				ExtractedFields: extracted.Fields(),
				TemplateKey:     p.TemplateKey,
				Skipped:         true,
				Reason:          ReasonDuplicateReplyKey,
			},
		}, nil
	}

	patch := p.Updates
	// The planner already refuses to re-ask; re-check here anyway so a
	// planner bug alone cannot violate the no-repeat invariant.
	patch.AskedQuestionKeys = filterAlreadyAsked(state, patch.AskedQuestionKeys)
	inboundID := fmt.Sprintf("%d", req.InboundMessageID)
	patch.LastInboundID = &inboundID
	patch.LastReplyKey = &replyKey

	if _, err := e.states.Update(ctx, req.ConversationID, patch); err != nil {
		// A reply whose state update was lost risks a repeat next turn, so
		// this is the one storage error that must fail the whole call.
		return nil, fmt.Errorf("persist conversation %d state failed: %w", req.ConversationID, err)
	}

	e.appendLog(ctx, req, p, extracted, replyKey, text)

	return &models.ReplyResult{
		Text:     text,
		ReplyKey: replyKey,
		Debug: models.ReplyDebug{
			Plan:            p,
			ExtractedFields: extracted.Fields(),
			TemplateKey:     p.TemplateKey,
		},
	}, nil
}

// sendGreeting emits the greeting template before any other logic runs. The
// greeting always wins the first turn regardless of the inbound content, and
// never hard-fails: a missing greeting template degrades to a fixed string.
func (e *Engine) sendGreeting(ctx context.Context, req models.ReplyRequest, state models.ConversationState) (*models.ReplyResult, error) {
	p := models.Plan{
		Action:      models.ActionInfo,
		TemplateKey: models.TemplateGreeting,
		Reason:      "first contact, sending greeting before qualification",
	}

	text, err := templates.FinalText(ctx, e.catalog, models.TemplateGreeting, e.templateVars(req, state, models.ExtractedFields{}), req.UseLLM, e.polisher)
	if err != nil {
		slog.Warn("Engine.sendGreeting: greeting template unavailable, using fallback", "error", err, "conversationID", req.ConversationID)
		text = templates.FallbackGreeting
	}

	replyKey := ComputeReplyKey(req.ConversationID, req.InboundMessageID, p.Action, p.TemplateKey, p.QuestionKey)
	if replyKey == state.LastReplyKey {
		return &models.ReplyResult{
			Text:     text,
			ReplyKey: replyKey,
			Debug:    models.ReplyDebug{Plan: p, TemplateKey: p.TemplateKey, Skipped: true, Reason: ReasonDuplicateReplyKey},
		}, nil
	}

	inboundID := fmt.Sprintf("%d", req.InboundMessageID)
	patch := models.StatePatch{
		Collected:     map[string]any{models.FieldGreetingSent: true},
		LastInboundID: &inboundID,
		LastReplyKey:  &replyKey,
	}
	if _, err := e.states.Update(ctx, req.ConversationID, patch); err != nil {
		return nil, fmt.Errorf("persist conversation %d greeting state failed: %w", req.ConversationID, err)
	}

	e.appendLog(ctx, req, p, models.ExtractedFields{}, replyKey, text)

	return &models.ReplyResult{
		Text:     text,
		ReplyKey: replyKey,
		Debug:    models.ReplyDebug{Plan: p, ExtractedFields: map[string]any{}, TemplateKey: p.TemplateKey},
	}, nil
}

// findPriorEntry runs the durable duplicate check, tolerating a missing or
// failing log store.
func (e *Engine) findPriorEntry(ctx context.Context, req models.ReplyRequest) *models.ReplyLogEntry {
	if e.replyLog == nil {
		return nil
	}
	entry, err := e.replyLog.FindByInbound(ctx, req.ConversationID, req.InboundMessageID)
	if err != nil {
		slog.Warn("Engine.findPriorEntry: reply log lookup failed, proceeding without durable dedupe", "error", err, "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID)
		return nil
	}
	return entry
}

// loadHistory reads prior inbound messages for extraction. Failures degrade
// to extraction over the new inbound text alone.
func (e *Engine) loadHistory(ctx context.Context, conversationID int64) []models.HistoryMessage {
	msgs, err := e.history.RecentMessages(ctx, conversationID, e.historyLimit)
	if err != nil {
		slog.Warn("Engine.loadHistory: history read failed, extracting from inbound text only", "error", err, "conversationID", conversationID)
		return nil
	}
	return msgs
}

// combineText concatenates the new inbound text with prior inbound messages,
// newest intent first. Outbound messages are excluded so the engine's own
// question wording cannot trigger the extractor.
func combineText(inboundText string, history []models.HistoryMessage) string {
	parts := []string{inboundText}
	for _, m := range history {
		if m.Direction == "in" {
			parts = append(parts, m.Body)
		}
	}
	return strings.Join(parts, "\n")
}

func (e *Engine) templateVars(req models.ReplyRequest, state models.ConversationState, extracted models.ExtractedFields) map[string]string {
	contactName := req.ContactName
	if name, ok := state.CollectedValue(models.FieldFullName); ok {
		if s, isStr := name.(string); isStr {
			contactName = s
		}
	} else if extracted.FullName != "" {
		contactName = extracted.FullName
	}
	return map[string]string{
		"contact_name": contactName,
		"language":     req.Language,
	}
}

// appendLog writes the audit/idempotency record. Best-effort: a log failure
// is warned about, never allowed to fail the turn.
func (e *Engine) appendLog(ctx context.Context, req models.ReplyRequest, p models.Plan, extracted models.ExtractedFields, replyKey, text string) {
	if e.replyLog == nil {
		return
	}
	entry := models.ReplyLogEntry{
		ID:               uuid.NewString(),
		ConversationID:   req.ConversationID,
		InboundMessageID: req.InboundMessageID,
		Action:           p.Action,
		TemplateKey:      p.TemplateKey,
		QuestionKey:      p.QuestionKey,
		Reason:           p.Reason,
		Extracted:        extracted.Fields(),
		ReplyKey:         replyKey,
		ReplyPreview:     models.TruncateReply(text),
		CreatedAt:        time.Now(),
	}
	if err := e.replyLog.AppendReplyLog(ctx, entry); err != nil {
		slog.Warn("Engine.appendLog: reply log append failed", "error", err, "conversationID", req.ConversationID, "inboundMessageID", req.InboundMessageID)
	}
}

// filterAlreadyAsked drops question keys already present in the state.
func filterAlreadyAsked(state models.ConversationState, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !state.HasAsked(k) {
			out = append(out, k)
		}
	}
	return out
}

// Stop freezes a conversation: no further template is planned except the
// neutral handover stub. Operator surface, exposed through the API.
func (e *Engine) Stop(ctx context.Context, conversationID int64, reason string) error {
	stop := models.StopFlag{Enabled: true, Reason: reason}
	if _, err := e.states.Update(ctx, conversationID, models.StatePatch{Stop: &stop}); err != nil {
		return fmt.Errorf("stop conversation %d failed: %w", conversationID, err)
	}
	slog.Info("Engine.Stop: conversation frozen", "conversationID", conversationID, "reason", reason)
	return nil
}

// Reset replaces a conversation's state with the default state. Operator and
// test surface.
func (e *Engine) Reset(ctx context.Context, conversationID int64) error {
	return e.states.Reset(ctx, conversationID)
}
