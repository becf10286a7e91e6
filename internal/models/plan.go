package models

// Action is the kind of conversational move the planner decided on.
type Action string

const (
	// ActionAsk prompts the contact for the next missing qualification field.
	ActionAsk Action = "ASK"
	// ActionInfo sends an informational message without expecting an answer.
	ActionInfo Action = "INFO"
	// ActionOffer sends a promotional offer (cheapest-package interrupt).
	ActionOffer Action = "OFFER"
	// ActionHandover ends the automated flow and defers to a human agent.
	ActionHandover Action = "HANDOVER"
	// ActionStop acknowledges a frozen conversation with a neutral stub.
	ActionStop Action = "STOP"
)

// TemplateKey selects a canned response pattern from the template catalog.
type TemplateKey string

const (
	TemplateGreeting        TemplateKey = "greeting"
	TemplateAskService      TemplateKey = "ask_service"
	TemplateAskFullName     TemplateKey = "ask_full_name"
	TemplateAskNationality  TemplateKey = "ask_nationality"
	TemplateAskActivity     TemplateKey = "ask_business_activity"
	TemplateAskJurisdiction TemplateKey = "ask_jurisdiction"
	TemplateAskPartners     TemplateKey = "ask_partners_count"
	TemplateAskVisas        TemplateKey = "ask_visas_count"
	TemplateCheapestOffer   TemplateKey = "cheapest_offer_12999"
	TemplateHandover        TemplateKey = "handover"
	TemplateStopHandover    TemplateKey = "stop_handover"
)

// Question keys double as collected-field names so that "was this asked" and
// "was this answered" checks share one vocabulary.
const (
	FieldService          = "service"
	FieldFullName         = "full_name"
	FieldNationality      = "nationality"
	FieldBusinessActivity = "business_activity"
	FieldJurisdiction     = "jurisdiction"
	FieldPartnersCount    = "partners_count"
	FieldVisasCount       = "visas_count"
	FieldGreetingSent     = "greeting_sent"
)

// Plan is the planner's decision for a single inbound message. It is
// transient: the orchestrator renders it, applies Updates, and discards it.
type Plan struct {
	Action      Action      `json:"action"`
	TemplateKey TemplateKey `json:"template_key"`
	QuestionKey string      `json:"question_key,omitempty"`
	Updates     StatePatch  `json:"-"`
	Reason      string      `json:"reason"`
}

// ExtractedFields holds the candidate values the extractor recovered from
// inbound text. Zero values mean "not found".
type ExtractedFields struct {
	ServiceKey       ServiceKey `json:"service_key,omitempty"`
	FullName         string     `json:"full_name,omitempty"`
	Nationality      string     `json:"nationality,omitempty"`
	BusinessActivity string     `json:"business_activity,omitempty"`
	Jurisdiction     string     `json:"jurisdiction,omitempty"`
	PartnersCount    int        `json:"partners_count,omitempty"`
	VisasCount       int        `json:"visas_count,omitempty"`
	CheapestIntent   bool       `json:"cheapest_intent,omitempty"`
}

// Fields returns the non-empty extracted values keyed by collected-field name.
// The service key and the cheapest-intent flag are planner signals, not
// collected answers, so they are not included.
func (e ExtractedFields) Fields() map[string]any {
	out := map[string]any{}
	if e.FullName != "" {
		out[FieldFullName] = e.FullName
	}
	if e.Nationality != "" {
		out[FieldNationality] = e.Nationality
	}
	if e.BusinessActivity != "" {
		out[FieldBusinessActivity] = e.BusinessActivity
	}
	if e.Jurisdiction != "" {
		out[FieldJurisdiction] = e.Jurisdiction
	}
	if e.PartnersCount > 0 {
		out[FieldPartnersCount] = e.PartnersCount
	}
	if e.VisasCount > 0 {
		out[FieldVisasCount] = e.VisasCount
	}
	return out
}
