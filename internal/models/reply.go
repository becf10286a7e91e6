package models

import "time"

// ReplyRequest is the engine's single entry point payload: one inbound
// WhatsApp message for one conversation.
type ReplyRequest struct {
	ConversationID   int64  `json:"conversation_id"`
	InboundMessageID int64  `json:"inbound_message_id"`
	InboundText      string `json:"inbound_text"`
	Channel          string `json:"channel"`
	UseLLM           bool   `json:"use_llm,omitempty"`
	ContactName      string `json:"contact_name,omitempty"`
	Language         string `json:"language,omitempty"`
}

// ApplyDefaults fills optional request fields with their documented defaults.
func (r *ReplyRequest) ApplyDefaults() {
	if r.ContactName == "" {
		r.ContactName = "there"
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if r.Channel == "" {
		r.Channel = "whatsapp"
	}
}

// ReplyDebug carries operator-facing detail about how a reply was decided.
// It is never shown to the end customer.
type ReplyDebug struct {
	Plan            Plan           `json:"plan"`
	ExtractedFields map[string]any `json:"extracted_fields"`
	TemplateKey     TemplateKey    `json:"template_key"`
	Skipped         bool           `json:"skipped"`
	Reason          string         `json:"reason,omitempty"`
}

// ReplyResult is what the webhook handler sends (or, when Skipped, does not
// send) back over the channel.
type ReplyResult struct {
	Text     string     `json:"text"`
	ReplyKey string     `json:"reply_key"`
	Debug    ReplyDebug `json:"debug"`
}

// ReplyLogEntry is the append-only audit and idempotency record written after
// each processed inbound message. FindByInbound on (ConversationID,
// InboundMessageID) is the durable duplicate-delivery check.
type ReplyLogEntry struct {
	ID               string         `json:"id"`
	ConversationID   int64          `json:"conversation_id"`
	InboundMessageID int64          `json:"inbound_message_id"`
	Action           Action         `json:"action"`
	TemplateKey      TemplateKey    `json:"template_key"`
	QuestionKey      string         `json:"question_key,omitempty"`
	Reason           string         `json:"reason"`
	Extracted        map[string]any `json:"extracted,omitempty"`
	ReplyKey         string         `json:"reply_key"`
	ReplyPreview     string         `json:"reply_preview"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ReplyPreviewLimit caps the stored reply text; the full text is reproducible
// from the template and variables, the log only needs enough for debugging.
const ReplyPreviewLimit = 200

// TruncateReply shortens a reply to ReplyPreviewLimit runes for log storage.
func TruncateReply(text string) string {
	runes := []rune(text)
	if len(runes) <= ReplyPreviewLimit {
		return text
	}
	return string(runes[:ReplyPreviewLimit])
}

// HistoryMessage is one prior message of a conversation, oldest-first when
// returned from a HistoryStore.
type HistoryMessage struct {
	ID        int64     `json:"id"`
	Direction string    `json:"direction"` // "in" or "out"
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
