// Package models defines the data structures shared across the reply engine.
package models

// Stage represents the forward-only qualification progress of a conversation.
type Stage string

const (
	// StageNew is the initial stage before any service has been identified.
	StageNew Stage = "NEW"
	// StageQualifying is active while required fields are being collected.
	StageQualifying Stage = "QUALIFYING"
	// StageQuoteReady indicates all qualification questions are answered.
	StageQuoteReady Stage = "QUOTE_READY"
)

// ServiceKey identifies one of the service lines the engine can qualify for.
type ServiceKey string

const (
	ServiceFreelanceVisa ServiceKey = "freelance_visa"
	ServiceBusinessSetup ServiceKey = "business_setup"
	ServiceFamilyVisa    ServiceKey = "family_visa"
	ServiceVisitVisa     ServiceKey = "visit_visa"
	ServiceGoldenVisa    ServiceKey = "golden_visa"
)

// StopFlag permanently suppresses automated replies for a conversation.
type StopFlag struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// ConversationState is the persisted per-conversation FSM record. It is stored
// as a JSON blob on the conversation and mutated exclusively through
// fsm.Manager.Update so that merge semantics hold at a single choke point.
type ConversationState struct {
	ServiceKey        ServiceKey     `json:"service_key,omitempty"`
	Stage             Stage          `json:"stage"`
	Collected         map[string]any `json:"collected"`
	Required          []string       `json:"required,omitempty"`
	AskedQuestionKeys []string       `json:"asked_question_keys"`
	FollowUpStep      int            `json:"follow_up_step"`
	LastInboundID     string         `json:"last_inbound_message_id,omitempty"`
	LastReplyKey      string         `json:"last_outbound_reply_key,omitempty"`
	Stop              StopFlag       `json:"stop"`
}

// DefaultState returns the implicit state of a conversation that has no
// stored blob yet. Older partial blobs are merged onto this shape so missing
// fields stay valid.
func DefaultState() ConversationState {
	return ConversationState{
		Stage:             StageNew,
		Collected:         map[string]any{},
		AskedQuestionKeys: []string{},
	}
}

// HasAsked reports whether a question key was ever asked in this conversation.
func (s ConversationState) HasAsked(questionKey string) bool {
	for _, k := range s.AskedQuestionKeys {
		if k == questionKey {
			return true
		}
	}
	return false
}

// CollectedValue returns the collected value for a field, treating nil and
// empty strings as absent.
func (s ConversationState) CollectedValue(field string) (any, bool) {
	v, ok := s.Collected[field]
	if !ok || v == nil {
		return nil, false
	}
	if str, isStr := v.(string); isStr && str == "" {
		return nil, false
	}
	return v, true
}

// StatePatch is a partial ConversationState applied through fsm.Manager.Update.
// Pointer fields distinguish "unset" from zero values; Collected entries with
// nil values are ignored by the merge so a patch can never erase an answer.
type StatePatch struct {
	ServiceKey        *ServiceKey
	Stage             *Stage
	Collected         map[string]any
	Required          []string
	AskedQuestionKeys []string
	FollowUpStep      *int
	LastInboundID     *string
	LastReplyKey      *string
	Stop              *StopFlag
}

// IsEmpty reports whether applying the patch would change nothing.
func (p StatePatch) IsEmpty() bool {
	return p.ServiceKey == nil && p.Stage == nil && len(p.Collected) == 0 &&
		p.Required == nil && len(p.AskedQuestionKeys) == 0 && p.FollowUpStep == nil &&
		p.LastInboundID == nil && p.LastReplyKey == nil && p.Stop == nil
}
