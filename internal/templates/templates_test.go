package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gulfdesk/replyengine/internal/models"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	got, err := Render(BuiltinCatalog{}, models.TemplateGreeting, map[string]string{"contact_name": "Ahmed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "Ahmed") {
		t.Errorf("rendered text missing variable value: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("rendered text still contains placeholders: %q", got)
	}
}

func TestRenderUnknownKeyIsError(t *testing.T) {
	_, err := Render(BuiltinCatalog{}, "no_such_template", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestBuiltinTemplatesPassPhrasePolicy(t *testing.T) {
	catalog := BuiltinCatalog{}
	vars := map[string]string{"contact_name": "Ahmed Khan", "language": "en"}
	for _, key := range catalog.Keys() {
		rendered, err := Render(catalog, key, vars)
		if err != nil {
			t.Fatalf("render %s: %v", key, err)
		}
		if err := CheckForbidden(rendered); err != nil {
			t.Errorf("template %s violates phrase policy: %v", key, err)
		}
	}
}

func TestCheckForbidden(t *testing.T) {
	cases := []struct {
		text string
		bad  bool
	}{
		{"Your visa is Guaranteed to be approved", true},
		{"we are 100% sure", true},
		{"I have an inside contact at immigration", true},
		{"our consultant will share a quote", false},
	}
	for _, tc := range cases {
		err := CheckForbidden(tc.text)
		if tc.bad && err == nil {
			t.Errorf("CheckForbidden(%q) passed, want violation", tc.text)
		}
		if !tc.bad && err != nil {
			t.Errorf("CheckForbidden(%q) = %v, want nil", tc.text, err)
		}
	}
}

// fakePolisher returns a canned rewrite or error.
type fakePolisher struct {
	out string
	err error
}

func (f fakePolisher) Polish(ctx context.Context, rendered string, variables map[string]string) (string, error) {
	return f.out, f.err
}

func TestFinalTextVerbatimByDefault(t *testing.T) {
	got, err := FinalText(context.Background(), BuiltinCatalog{}, models.TemplateAskFullName, nil, false, fakePolisher{out: "polished"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == "polished" {
		t.Error("polisher ran with useLLM=false")
	}
}

func TestFinalTextUsesPolisher(t *testing.T) {
	got, err := FinalText(context.Background(), BuiltinCatalog{}, models.TemplateAskFullName, nil, true, fakePolisher{out: "Could you share your full name?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Could you share your full name?" {
		t.Errorf("got %q, want polished text", got)
	}
}

func TestFinalTextPolishFailureDegradesToVerbatim(t *testing.T) {
	verbatim, _ := Render(BuiltinCatalog{}, models.TemplateAskFullName, nil)
	got, err := FinalText(context.Background(), BuiltinCatalog{}, models.TemplateAskFullName, nil, true, fakePolisher{err: fmt.Errorf("rate limited")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != verbatim {
		t.Errorf("got %q, want verbatim template", got)
	}
}

func TestFinalTextRejectsForbiddenPolish(t *testing.T) {
	verbatim, _ := Render(BuiltinCatalog{}, models.TemplateAskFullName, nil)
	got, err := FinalText(context.Background(), BuiltinCatalog{}, models.TemplateAskFullName, nil, true, fakePolisher{out: "Approval is guaranteed, just send your name"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != verbatim {
		t.Errorf("forbidden polish output was not discarded: %q", got)
	}
}
