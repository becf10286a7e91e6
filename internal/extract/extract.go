// Package extract implements the heuristic field extractor. Extract is a pure
// function over text: no I/O, no randomness, same input always yields the
// same output. History concatenation is the caller's responsibility.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gulfdesk/replyengine/internal/models"
)

// serviceKeywords maps each service line to its trigger phrases. Scanned in
// the fixed order below so extraction stays deterministic when a message
// mentions several services.
var serviceOrder = []models.ServiceKey{
	models.ServiceBusinessSetup,
	models.ServiceFreelanceVisa,
	models.ServiceGoldenVisa,
	models.ServiceFamilyVisa,
	models.ServiceVisitVisa,
}

var serviceKeywords = map[models.ServiceKey][]string{
	models.ServiceBusinessSetup: {"business setup", "company setup", "company formation", "start a business", "open a company", "trade license", "llc"},
	models.ServiceFreelanceVisa: {"freelance visa", "freelancer visa", "freelance permit", "freelancing"},
	models.ServiceGoldenVisa:    {"golden visa"},
	models.ServiceFamilyVisa:    {"family visa", "spouse visa", "dependent visa", "sponsor my family"},
	models.ServiceVisitVisa:     {"visit visa", "tourist visa", "visitor visa"},
}

// nationalities is a gazetteer of nationality adjectives as they appear in
// chat text. Lowercase; matched on word boundaries.
var nationalities = []string{
	"indian", "pakistani", "bangladeshi", "sri lankan", "nepali", "filipino", "filipina",
	"egyptian", "sudanese", "moroccan", "tunisian", "algerian", "jordanian", "lebanese",
	"syrian", "iraqi", "iranian", "yemeni", "palestinian", "emirati", "saudi", "kuwaiti",
	"omani", "bahraini", "qatari", "turkish", "british", "american", "canadian",
	"australian", "french", "german", "italian", "spanish", "russian", "ukrainian",
	"chinese", "japanese", "korean", "nigerian", "kenyan", "ghanaian", "south african",
	"ethiopian", "somali", "afghan", "uzbek", "kazakh", "indonesian", "malaysian",
	"thai", "vietnamese", "brazilian", "mexican", "colombian",
}

// countryToNationality covers the common "I am from X" phrasing.
var countryToNationality = map[string]string{
	"india": "Indian", "pakistan": "Pakistani", "bangladesh": "Bangladeshi",
	"sri lanka": "Sri Lankan", "nepal": "Nepali", "philippines": "Filipino",
	"egypt": "Egyptian", "sudan": "Sudanese", "morocco": "Moroccan",
	"jordan": "Jordanian", "lebanon": "Lebanese", "syria": "Syrian",
	"iraq": "Iraqi", "iran": "Iranian", "turkey": "Turkish",
	"uk": "British", "united kingdom": "British", "usa": "American",
	"united states": "American", "canada": "Canadian", "australia": "Australian",
	"france": "French", "germany": "German", "russia": "Russian",
	"ukraine": "Ukrainian", "china": "Chinese", "nigeria": "Nigerian",
	"kenya": "Kenyan", "south africa": "South African",
}

var activityKeywords = []string{
	"general trading", "trading", "consultancy", "consulting", "e-commerce", "ecommerce",
	"digital marketing", "marketing", "real estate", "it services", "software",
	"restaurant", "catering", "logistics", "import and export", "import export",
	"construction", "maintenance", "recruitment", "event management", "media",
}

var (
	// Intra-name whitespace is [ \t] only: the caller joins messages with
	// newlines, and a name must never bleed across a message boundary.
	nameStatedRe = regexp.MustCompile(`(?i)\b(?:my name is|my name's|this is)[: \t]+([A-Za-z][A-Za-z.'-]*(?:[ \t]+[A-Za-z][A-Za-z.'-]*){0,3})`)
	nameIAmRe    = regexp.MustCompile(`(?i)\bi(?:'m| am)[ \t]+([A-Z][a-z.'-]+(?:[ \t]+[A-Z][a-z.'-]+){0,3})\b`)
	// A message that is nothing but two to four capitalized words is treated
	// as a bare name reply ("John Smith"). Matched against the first line
	// only, which is the current inbound message.
	bareNameRe = regexp.MustCompile(`^[A-Z][a-z.'-]+(?:[ \t]+[A-Z][a-z.'-]+){1,3}$`)

	partnersAfterRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:business\s+)?partners?\b`)
	partnersBeforeRe = regexp.MustCompile(`(?i)\bpartners?\b\D{0,12}?(\d{1,2})`)
	visasAfterRe     = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:employment\s+|residence\s+)?visas?\b`)
	visasBeforeRe    = regexp.MustCompile(`(?i)\bvisas?\b\D{0,12}?(\d{1,2})`)

	fromCountryRe = regexp.MustCompile(`(?i)\b(?:i am from|i'm from|from)\s+([a-z ]{2,30})`)
)

var cheapestPhrases = []string{
	"cheapest", "lowest price", "best price", "most affordable", "low budget",
	"cheap option", "minimum cost", "budget option",
}

// iAmStopwords reject "I am interested"-style matches of the name pattern.
var iAmStopwords = map[string]bool{
	"interested": true, "looking": true, "planning": true, "ready": true,
	"from": true, "here": true, "sorry": true, "sure": true, "ok": true,
}

// Extract scans text for candidate qualification fields. Zero values mean
// "not found".
func Extract(text string) models.ExtractedFields {
	var out models.ExtractedFields
	lower := strings.ToLower(text)

	for _, svc := range serviceOrder {
		for _, kw := range serviceKeywords[svc] {
			if containsWord(lower, kw) {
				out.ServiceKey = svc
				break
			}
		}
		if out.ServiceKey != "" {
			break
		}
	}

	out.FullName = extractName(text)
	out.Nationality = extractNationality(lower)

	for _, kw := range activityKeywords {
		if containsWord(lower, kw) {
			out.BusinessActivity = kw
			break
		}
	}

	if containsWord(lower, "mainland") {
		out.Jurisdiction = "mainland"
	} else if containsWord(lower, "freezone") || containsWord(lower, "free zone") {
		out.Jurisdiction = "freezone"
	}

	out.PartnersCount = extractCount(text, partnersAfterRe, partnersBeforeRe)
	out.VisasCount = extractCount(text, visasAfterRe, visasBeforeRe)

	out.CheapestIntent = HasCheapestIntent(lower)

	return out
}

// HasCheapestIntent reports whether text by itself expresses budget intent.
// The planner evaluates it over the current inbound text only, so a budget
// phrase from an earlier message cannot re-trigger the offer on later turns.
func HasCheapestIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range cheapestPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func extractName(text string) string {
	if m := nameStatedRe.FindStringSubmatch(text); m != nil {
		return cleanName(m[1])
	}
	if m := nameIAmRe.FindStringSubmatch(text); m != nil {
		candidate := cleanName(m[1])
		first := strings.ToLower(strings.Fields(candidate)[0])
		// "I am Indian" states a nationality, not a name.
		if !iAmStopwords[first] && !isNationality(candidate) {
			return candidate
		}
	}
	// A bare name is only recognized on the first line, the current inbound
	// message; stale lines from history were already extracted on their turn.
	firstLine := text
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	trimmed := strings.TrimSpace(firstLine)
	if bareNameRe.MatchString(trimmed) {
		return cleanName(trimmed)
	}
	return ""
}

func cleanName(raw string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")
}

func isNationality(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, nat := range nationalities {
		if lower == nat {
			return true
		}
	}
	return false
}

func extractNationality(lower string) string {
	for _, nat := range nationalities {
		if containsWord(lower, nat) {
			return titleCase(nat)
		}
	}
	if m := fromCountryRe.FindStringSubmatch(lower); m != nil {
		candidate := strings.TrimSpace(m[1])
		// Longest country names first would need sorting; instead try
		// shrinking the match word by word so "from india tomorrow" works.
		words := strings.Fields(candidate)
		for n := len(words); n >= 1; n-- {
			if nat, ok := countryToNationality[strings.Join(words[:n], " ")]; ok {
				return nat
			}
		}
	}
	return ""
}

func extractCount(text string, afterRe, beforeRe *regexp.Regexp) int {
	if m := afterRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := beforeRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// containsWord reports whether phrase occurs in s on word boundaries.
func containsWord(s, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordChar(s[start-1])
		afterOK := end == len(s) || !isWordChar(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// MergeExtractedFields merges freshly extracted values into the collected
// bag without destroying existing answers: only non-empty extracted values
// are applied, and a previously collected value is never cleared.
func MergeExtractedFields(collected map[string]any, extracted models.ExtractedFields) map[string]any {
	out := make(map[string]any, len(collected)+6)
	for k, v := range collected {
		out[k] = v
	}
	for k, v := range extracted.Fields() {
		out[k] = v
	}
	return out
}
