// Package plan implements the deterministic planner: given the conversation
// state, the inbound text, and the fields extracted from the inbound plus its
// history, it decides the next conversational action. Plan is pure — no
// clock, no randomness, no I/O — so identical inputs always yield identical
// plans.
package plan

import (
	"fmt"

	"github.com/gulfdesk/replyengine/internal/extract"
	"github.com/gulfdesk/replyengine/internal/models"
)

// businessSetupOrder is the fixed, non-skippable question order for the
// business-setup script. The engine never asks a qualifying question outside
// this list once the service is business_setup, and never asks a sixth.
var businessSetupOrder = []string{
	models.FieldFullName,
	models.FieldBusinessActivity,
	models.FieldJurisdiction,
	models.FieldPartnersCount,
	models.FieldVisasCount,
}

// genericOrder is the default required list for single-applicant visa lines.
var genericOrder = []string{
	models.FieldFullName,
	models.FieldNationality,
}

// questionTemplates maps each question key to its ask template.
var questionTemplates = map[string]models.TemplateKey{
	models.FieldService:          models.TemplateAskService,
	models.FieldFullName:         models.TemplateAskFullName,
	models.FieldNationality:      models.TemplateAskNationality,
	models.FieldBusinessActivity: models.TemplateAskActivity,
	models.FieldJurisdiction:     models.TemplateAskJurisdiction,
	models.FieldPartnersCount:    models.TemplateAskPartners,
	models.FieldVisasCount:       models.TemplateAskVisas,
}

// RequiredFields returns the ordered required field list for a service.
func RequiredFields(service models.ServiceKey) []string {
	if service == models.ServiceBusinessSetup {
		return append([]string(nil), businessSetupOrder...)
	}
	return append([]string(nil), genericOrder...)
}

// Plan decides the next action for one inbound message. First matching rule
// wins: stop flag, service detection cascade, business-setup script, generic
// script. The cheapest-offer interrupt preempts the scripts while the
// conversation is in the business-setup flow; it is judged on inboundText
// alone, not on extracted, because extracted may cover concatenated history
// and a budget phrase said once must not interrupt every later turn.
func Plan(state models.ConversationState, inboundText string, extracted models.ExtractedFields, isFirstMessage bool) models.Plan {
	if state.Stop.Enabled {
		reason := "conversation stopped"
		if state.Stop.Reason != "" {
			reason = fmt.Sprintf("conversation stopped: %s", state.Stop.Reason)
		}
		return models.Plan{
			Action:      models.ActionStop,
			TemplateKey: models.TemplateStopHandover,
			Reason:      reason,
		}
	}

	if state.ServiceKey == models.ServiceBusinessSetup && extract.HasCheapestIntent(inboundText) {
		step := state.FollowUpStep + 1
		return models.Plan{
			Action:      models.ActionOffer,
			TemplateKey: models.TemplateCheapestOffer,
			Updates: models.StatePatch{
				Collected:    extracted.Fields(),
				FollowUpStep: &step,
			},
			Reason: "budget intent detected, presenting cheapest business-setup offer",
		}
	}

	if state.ServiceKey == "" {
		return planServiceDetection(state, extracted, isFirstMessage)
	}

	if state.ServiceKey == models.ServiceBusinessSetup {
		return planScript(state, extracted, businessSetupOrder, "business-setup")
	}

	required := state.Required
	if len(required) == 0 {
		required = RequiredFields(state.ServiceKey)
	}
	return planScript(state, extracted, required, string(state.ServiceKey))
}

// planServiceDetection handles the pre-service phase: either the service was
// named this turn (start qualifying immediately), or the service question was
// already asked (fall through to the name/nationality cascade so the
// conversation keeps progressing), or the service question itself is due.
func planServiceDetection(state models.ConversationState, extracted models.ExtractedFields, isFirstMessage bool) models.Plan {
	if extracted.ServiceKey != "" {
		service := extracted.ServiceKey
		stage := models.StageQualifying
		p := identityCascade(state, extracted, fmt.Sprintf("service %s detected", service))
		p.Updates.ServiceKey = &service
		p.Updates.Stage = &stage
		p.Updates.Required = RequiredFields(service)
		if p.Action == models.ActionHandover {
			quoteReady := models.StageQuoteReady
			p.Updates.Stage = &quoteReady
		}
		return p
	}

	if state.HasAsked(models.FieldService) {
		// Never re-ask the service question; keep the conversation moving
		// through the identity cascade instead of looping.
		return identityCascade(state, extracted, "service still unknown after asking")
	}

	reason := "asking for the service of interest"
	if isFirstMessage {
		reason = "fresh conversation, asking for the service of interest"
	}
	return models.Plan{
		Action:      models.ActionAsk,
		TemplateKey: models.TemplateAskService,
		QuestionKey: models.FieldService,
		Updates: models.StatePatch{
			Collected:         extracted.Fields(),
			AskedQuestionKeys: []string{models.FieldService},
		},
		Reason: reason,
	}
}

// identityCascade asks for full name then nationality, whichever is first
// missing, or hands over when both are satisfied (pre-collected from history
// or answered earlier).
func identityCascade(state models.ConversationState, extracted models.ExtractedFields, context string) models.Plan {
	effective := effectiveCollected(state, extracted)
	for _, field := range genericOrder {
		if _, ok := collectedValue(effective, field); ok {
			continue
		}
		if state.HasAsked(field) {
			continue
		}
		return models.Plan{
			Action:      models.ActionAsk,
			TemplateKey: questionTemplates[field],
			QuestionKey: field,
			Updates: models.StatePatch{
				Collected:         extracted.Fields(),
				AskedQuestionKeys: []string{field},
			},
			Reason: fmt.Sprintf("%s, asking for %s", context, field),
		}
	}
	return models.Plan{
		Action:      models.ActionHandover,
		TemplateKey: models.TemplateHandover,
		Updates: models.StatePatch{
			Collected: extracted.Fields(),
		},
		Reason: fmt.Sprintf("%s, identity fields already satisfied, handing over", context),
	}
}

// planScript walks an ordered required-field list: skip fields that are
// collected or were already asked (asked-but-unanswered advances, the engine
// does not nag), ask the first eligible field, and hand over once every field
// is either answered or asked. Answering the final field promotes the stage
// to QUOTE_READY.
func planScript(state models.ConversationState, extracted models.ExtractedFields, order []string, flowName string) models.Plan {
	effective := effectiveCollected(state, extracted)

	for _, field := range order {
		if _, ok := collectedValue(effective, field); ok {
			continue
		}
		if state.HasAsked(field) {
			continue
		}
		return models.Plan{
			Action:      models.ActionAsk,
			TemplateKey: questionTemplates[field],
			QuestionKey: field,
			Updates: models.StatePatch{
				Collected:         extracted.Fields(),
				AskedQuestionKeys: []string{field},
			},
			Reason: fmt.Sprintf("%s flow, asking for %s", flowName, field),
		}
	}

	allAnswered := true
	for _, field := range order {
		if _, ok := collectedValue(effective, field); !ok {
			allAnswered = false
			break
		}
	}

	p := models.Plan{
		Action:      models.ActionHandover,
		TemplateKey: models.TemplateHandover,
		Updates: models.StatePatch{
			Collected: extracted.Fields(),
		},
	}
	if allAnswered {
		quoteReady := models.StageQuoteReady
		p.Updates.Stage = &quoteReady
		p.Reason = fmt.Sprintf("%s flow complete, all fields collected, handing over for quote", flowName)
	} else {
		p.Reason = fmt.Sprintf("%s flow question ceiling reached, handing over", flowName)
	}
	return p
}

// effectiveCollected overlays this turn's extraction onto the collected bag
// so a question answered in the same turn is not re-asked.
func effectiveCollected(state models.ConversationState, extracted models.ExtractedFields) map[string]any {
	out := make(map[string]any, len(state.Collected)+6)
	for k, v := range state.Collected {
		out[k] = v
	}
	for k, v := range extracted.Fields() {
		out[k] = v
	}
	return out
}

func collectedValue(collected map[string]any, field string) (any, bool) {
	v, ok := collected[field]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, false
	}
	return v, true
}
