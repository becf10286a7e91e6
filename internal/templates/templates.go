// Package templates holds the canned reply catalog, the variable renderer,
// and the forbidden-phrase guard applied to every outgoing text.
package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gulfdesk/replyengine/internal/models"
)

// ErrTemplateNotFound indicates a template key with no catalog entry. This is
// a deployment defect, fatal for the turn (except the greeting, which the
// orchestrator backstops with a hard-coded fallback).
var ErrTemplateNotFound = errors.New("template not found")

// ErrForbiddenPhrase indicates rendered text containing a phrase the
// compliance policy bans from outgoing messages.
var ErrForbiddenPhrase = errors.New("rendered text contains forbidden phrase")

// FallbackGreeting is sent if the greeting template itself is missing.
// First contact must never go silent.
const FallbackGreeting = "Hello! Thanks for reaching out. How can we help you today?"

// ForbiddenPhrases are compliance-banned strings checked case-insensitively
// against every rendered and polished reply.
var ForbiddenPhrases = []string{
	"guaranteed",
	"100%",
	"inside contact",
}

// builtin is the default template catalog.
var builtin = map[models.TemplateKey]string{
	models.TemplateGreeting: "Hi {{contact_name}}! Welcome to GulfDesk Business Services. " +
		"We help with company formation and UAE visa services.",
	models.TemplateAskService: "Which service are you interested in — business setup, " +
		"freelance visa, family visa, visit visa, or golden visa?",
	models.TemplateAskFullName:     "May I have your full name, please?",
	models.TemplateAskNationality:  "Thank you! What is your nationality?",
	models.TemplateAskActivity:     "What business activity are you planning? For example trading, consultancy, or e-commerce.",
	models.TemplateAskJurisdiction: "Would you prefer a mainland license or a freezone license?",
	models.TemplateAskPartners:     "How many partners will the company have?",
	models.TemplateAskVisas:        "And how many residence visas will you need?",
	models.TemplateCheapestOffer: "Our most affordable business setup package starts at AED 12,999, " +
		"including the trade license and one visa quota. Shall I have a consultant share the full breakdown?",
	models.TemplateHandover: "Thanks {{contact_name}}! We have everything we need. " +
		"One of our consultants will get back to you shortly with your personalised quote.",
	models.TemplateStopHandover: "Thank you for your messages. This conversation is now with our team, " +
		"and a consultant will follow up with you directly.",
}

// Catalog resolves template keys to template source text. Get returns an
// empty string and false for unknown keys.
type Catalog interface {
	Get(key models.TemplateKey) (string, bool)
}

// BuiltinCatalog serves the compiled-in template set.
type BuiltinCatalog struct{}

// Get returns the builtin template for key.
func (BuiltinCatalog) Get(key models.TemplateKey) (string, bool) {
	src, ok := builtin[key]
	return src, ok
}

// Keys returns every builtin template key, for compliance scans.
func (BuiltinCatalog) Keys() []models.TemplateKey {
	out := make([]models.TemplateKey, 0, len(builtin))
	for k := range builtin {
		out = append(out, k)
	}
	return out
}

// Polisher rewrites a rendered template through an LLM while preserving its
// factual content. Implementations live in the genai package.
type Polisher interface {
	Polish(ctx context.Context, rendered string, variables map[string]string) (string, error)
}

// Render substitutes {{name}} variables into the template for key.
func Render(catalog Catalog, key models.TemplateKey, variables map[string]string) (string, error) {
	src, ok := catalog.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}
	return substitute(src, variables), nil
}

func substitute(src string, variables map[string]string) string {
	out := src
	for name, value := range variables {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}

// CheckForbidden returns ErrForbiddenPhrase if text contains any banned
// phrase, case-insensitively.
func CheckForbidden(text string) error {
	lower := strings.ToLower(text)
	for _, phrase := range ForbiddenPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return fmt.Errorf("%w: %q", ErrForbiddenPhrase, phrase)
		}
	}
	return nil
}

// FinalText renders the template and, when useLLM is set and a polisher is
// available, passes the rendering through it. The verbatim rendering is the
// contractually safe path: polish failures and polish output that introduces
// a forbidden phrase both degrade to the verbatim text. A verbatim rendering
// that itself violates the phrase policy is a configuration defect and errors.
func FinalText(ctx context.Context, catalog Catalog, key models.TemplateKey, variables map[string]string, useLLM bool, polisher Polisher) (string, error) {
	rendered, err := Render(catalog, key, variables)
	if err != nil {
		return "", err
	}
	if err := CheckForbidden(rendered); err != nil {
		slog.Error("FinalText: template violates phrase policy", "error", err, "templateKey", key)
		return "", err
	}
	if !useLLM || polisher == nil {
		return rendered, nil
	}

	polished, err := polisher.Polish(ctx, rendered, variables)
	if err != nil {
		slog.Warn("FinalText: polish failed, using verbatim template", "error", err, "templateKey", key)
		return rendered, nil
	}
	if err := CheckForbidden(polished); err != nil {
		slog.Warn("FinalText: polished text violates phrase policy, using verbatim template", "error", err, "templateKey", key)
		return rendered, nil
	}
	return polished, nil
}
