package plan

import (
	"reflect"
	"strings"
	"testing"

	"github.com/gulfdesk/replyengine/internal/extract"
	"github.com/gulfdesk/replyengine/internal/models"
)

func qualifyingState(service models.ServiceKey) models.ConversationState {
	state := models.DefaultState()
	state.ServiceKey = service
	state.Stage = models.StageQualifying
	state.Required = RequiredFields(service)
	return state
}

func TestPlanDeterminism(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.Collected[models.FieldFullName] = "Ahmed Khan"
	state.AskedQuestionKeys = []string{models.FieldFullName}
	text := "general trading in mainland"
	extracted := extract.Extract(text)

	first := Plan(state, text, extracted, false)
	for i := 0; i < 10; i++ {
		if got := Plan(state, text, extracted, false); !reflect.DeepEqual(got, first) {
			t.Fatalf("Plan is not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestPlanStopWins(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.Stop = models.StopFlag{Enabled: true, Reason: "customer requested human"}

	p := Plan(state, "I want the cheapest option", extract.Extract("I want the cheapest option"), false)
	if p.Action != models.ActionStop {
		t.Fatalf("action = %s, want STOP", p.Action)
	}
	if p.TemplateKey != models.TemplateStopHandover {
		t.Errorf("templateKey = %s, want %s", p.TemplateKey, models.TemplateStopHandover)
	}
	if want := "customer requested human"; !strings.Contains(p.Reason, want) {
		t.Errorf("reason %q does not echo stop reason %q", p.Reason, want)
	}
}

func TestPlanFreshConversationAsksService(t *testing.T) {
	p := Plan(models.DefaultState(), "hello", extract.Extract("hello"), true)
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldService {
		t.Fatalf("got action=%s question=%s, want ASK service", p.Action, p.QuestionKey)
	}
	if !reflect.DeepEqual(p.Updates.AskedQuestionKeys, []string{models.FieldService}) {
		t.Errorf("asked keys update = %v", p.Updates.AskedQuestionKeys)
	}
}

func TestPlanServiceDetectedAsksFullName(t *testing.T) {
	text := "I want a freelance visa"
	p := Plan(models.DefaultState(), text, extract.Extract(text), false)
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldFullName {
		t.Fatalf("got action=%s question=%s, want ASK full_name", p.Action, p.QuestionKey)
	}
	if p.Updates.ServiceKey == nil || *p.Updates.ServiceKey != models.ServiceFreelanceVisa {
		t.Errorf("service key update = %v", p.Updates.ServiceKey)
	}
	if p.Updates.Stage == nil || *p.Updates.Stage != models.StageQualifying {
		t.Errorf("stage update = %v", p.Updates.Stage)
	}
	if !reflect.DeepEqual(p.Updates.Required, []string{models.FieldFullName, models.FieldNationality}) {
		t.Errorf("required update = %v", p.Updates.Required)
	}
}

func TestPlanServiceDetectedWithIdentityPreCollected(t *testing.T) {
	state := models.DefaultState()
	state.Collected[models.FieldFullName] = "Omar Farouk"
	state.Collected[models.FieldNationality] = "Jordanian"

	text := "business setup please"
	p := Plan(state, text, extract.Extract(text), false)
	if p.Action != models.ActionHandover {
		t.Fatalf("action = %s, want HANDOVER", p.Action)
	}
	if p.Updates.Stage == nil || *p.Updates.Stage != models.StageQuoteReady {
		t.Errorf("stage update = %v, want QUOTE_READY", p.Updates.Stage)
	}
}

func TestPlanServiceAlreadyAskedFallsThrough(t *testing.T) {
	state := models.DefaultState()
	state.AskedQuestionKeys = []string{models.FieldService}

	// Still no service named; the planner must not re-ask the service
	// question, it advances to the identity cascade.
	p := Plan(state, "just tell me prices", extract.Extract("just tell me prices"), false)
	if p.QuestionKey == models.FieldService {
		t.Fatal("planner re-asked the service question")
	}
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldFullName {
		t.Fatalf("got action=%s question=%s, want ASK full_name", p.Action, p.QuestionKey)
	}
}

func TestPlanBusinessSetupOrder(t *testing.T) {
	// Each step: previous fields collected, expect the next question in the
	// fixed order.
	steps := []struct {
		collected []string
		wantKey   string
	}{
		{nil, models.FieldFullName},
		{[]string{models.FieldFullName}, models.FieldBusinessActivity},
		{[]string{models.FieldFullName, models.FieldBusinessActivity}, models.FieldJurisdiction},
		{[]string{models.FieldFullName, models.FieldBusinessActivity, models.FieldJurisdiction}, models.FieldPartnersCount},
		{[]string{models.FieldFullName, models.FieldBusinessActivity, models.FieldJurisdiction, models.FieldPartnersCount}, models.FieldVisasCount},
	}
	for _, step := range steps {
		state := qualifyingState(models.ServiceBusinessSetup)
		for _, f := range step.collected {
			state.Collected[f] = "x"
		}
		p := Plan(state, "ok", extract.Extract("ok"), false)
		if p.Action != models.ActionAsk || p.QuestionKey != step.wantKey {
			t.Errorf("collected %v: got action=%s question=%s, want ASK %s", step.collected, p.Action, p.QuestionKey, step.wantKey)
		}
	}
}

func TestPlanBusinessSetupAnswerAdvancesSameTurn(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.Collected[models.FieldFullName] = "Ahmed Khan"
	state.AskedQuestionKeys = []string{models.FieldFullName, models.FieldBusinessActivity}

	// The activity arrives this turn; the plan records it and asks the next
	// step in the same turn.
	text := "general trading"
	p := Plan(state, text, extract.Extract(text), false)
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldJurisdiction {
		t.Fatalf("got action=%s question=%s, want ASK jurisdiction", p.Action, p.QuestionKey)
	}
	if p.Updates.Collected[models.FieldBusinessActivity] != "general trading" {
		t.Errorf("collected update missing activity: %v", p.Updates.Collected)
	}
}

func TestPlanBusinessSetupSkipsAskedUnanswered(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.AskedQuestionKeys = []string{models.FieldFullName}

	// Name was asked but never answered; the engine does not nag, it moves on.
	p := Plan(state, "hmm", extract.Extract("hmm"), false)
	if p.QuestionKey != models.FieldBusinessActivity {
		t.Fatalf("question = %s, want business_activity", p.QuestionKey)
	}
}

func TestPlanBusinessSetupFinalAnswerHandsOver(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.Collected[models.FieldFullName] = "Ahmed Khan"
	state.Collected[models.FieldBusinessActivity] = "general trading"
	state.Collected[models.FieldJurisdiction] = "mainland"
	state.Collected[models.FieldPartnersCount] = 3
	state.AskedQuestionKeys = []string{models.FieldFullName, models.FieldBusinessActivity, models.FieldJurisdiction, models.FieldPartnersCount, models.FieldVisasCount}

	text := "we need 4 visas"
	p := Plan(state, text, extract.Extract(text), false)
	if p.Action != models.ActionHandover {
		t.Fatalf("action = %s, want HANDOVER", p.Action)
	}
	if p.Updates.Stage == nil || *p.Updates.Stage != models.StageQuoteReady {
		t.Errorf("stage update = %v, want QUOTE_READY", p.Updates.Stage)
	}
}

func TestPlanBusinessSetupCeiling(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.AskedQuestionKeys = []string{models.FieldFullName, models.FieldBusinessActivity, models.FieldJurisdiction, models.FieldPartnersCount, models.FieldVisasCount}

	// All five asked, nothing answered: the flow terminates unconditionally,
	// a sixth qualifying question is never asked.
	p := Plan(state, "what?", extract.Extract("what?"), false)
	if p.Action != models.ActionHandover {
		t.Fatalf("action = %s, want HANDOVER", p.Action)
	}
	if p.QuestionKey != "" {
		t.Errorf("ceiling plan still asks %q", p.QuestionKey)
	}
	if p.Updates.Stage != nil {
		t.Errorf("ceiling handover must not promote stage, got %v", *p.Updates.Stage)
	}
}

func TestPlanCheapestOfferInterrupt(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.AskedQuestionKeys = []string{models.FieldFullName}
	state.FollowUpStep = 1

	text := "I want the cheapest option"
	p := Plan(state, text, extract.Extract(text), false)
	if p.Action != models.ActionOffer {
		t.Fatalf("action = %s, want OFFER", p.Action)
	}
	if p.TemplateKey != models.TemplateCheapestOffer {
		t.Errorf("templateKey = %s, want %s", p.TemplateKey, models.TemplateCheapestOffer)
	}
	if p.QuestionKey != "" {
		t.Error("offer interrupt must not consume a question slot")
	}
	if p.Updates.FollowUpStep == nil || *p.Updates.FollowUpStep != 2 {
		t.Errorf("followUpStep update = %v, want 2", p.Updates.FollowUpStep)
	}
}

func TestPlanCheapestFromHistoryDoesNotRefire(t *testing.T) {
	state := qualifyingState(models.ServiceBusinessSetup)
	state.AskedQuestionKeys = []string{models.FieldFullName}
	state.FollowUpStep = 1

	// The budget phrase sits in an earlier message of the concatenated text,
	// so the combined extraction still flags it. The current inbound answers
	// the name question; the script must resume, not repeat the offer.
	combined := "my name is Ahmed Khan\nwhat is the cheapest option?"
	p := Plan(state, "my name is Ahmed Khan", extract.Extract(combined), false)
	if p.Action == models.ActionOffer {
		t.Fatal("offer interrupt re-fired from a historical budget phrase")
	}
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldBusinessActivity {
		t.Fatalf("got action=%s question=%s, want ASK business_activity", p.Action, p.QuestionKey)
	}
	if p.Updates.Collected[models.FieldFullName] != "Ahmed Khan" {
		t.Errorf("collected update missing name: %v", p.Updates.Collected)
	}
}

func TestPlanCheapestIgnoredOutsideBusinessSetup(t *testing.T) {
	state := qualifyingState(models.ServiceFreelanceVisa)
	text := "cheapest please"
	p := Plan(state, text, extract.Extract(text), false)
	if p.Action == models.ActionOffer {
		t.Fatal("offer interrupt fired outside the business-setup flow")
	}
}

func TestPlanGenericScript(t *testing.T) {
	state := qualifyingState(models.ServiceFamilyVisa)
	state.Collected[models.FieldFullName] = "Sarah Connor"

	p := Plan(state, "ok", extract.Extract("ok"), false)
	if p.Action != models.ActionAsk || p.QuestionKey != models.FieldNationality {
		t.Fatalf("got action=%s question=%s, want ASK nationality", p.Action, p.QuestionKey)
	}

	state.Collected[models.FieldNationality] = "British"
	p = Plan(state, "ok", extract.Extract("ok"), false)
	if p.Action != models.ActionHandover {
		t.Fatalf("action = %s, want HANDOVER once required list satisfied", p.Action)
	}
}

func TestPlanNeverRepeatsQuestionKey(t *testing.T) {
	// Drive a business-setup conversation with unhelpful answers and check
	// no question key is ever planned twice.
	state := qualifyingState(models.ServiceBusinessSetup)
	seen := map[string]bool{}
	for turn := 0; turn < 10; turn++ {
		p := Plan(state, "hmm", extract.Extract("hmm"), false)
		if p.Action != models.ActionAsk {
			break
		}
		if seen[p.QuestionKey] {
			t.Fatalf("question key %q planned twice", p.QuestionKey)
		}
		seen[p.QuestionKey] = true
		state.AskedQuestionKeys = append(state.AskedQuestionKeys, p.QuestionKey)
	}
	if len(state.AskedQuestionKeys) > 5 {
		t.Fatalf("asked %d questions, ceiling is 5", len(state.AskedQuestionKeys))
	}
}
