package civic

import (
	"regexp"
	"strings"
)

var (
	// Lead-in phrases users wrap around an address ("my address is ...").
	addressLeadIn = regexp.MustCompile(
		`(?i)\b(?:check for|look up|find|my address is|address is|address:)\b`)

	// A street-address-shaped span: digits, word(s), and a recognized
	// road-type suffix. Longer suffix forms come first so "street" is not
	// consumed as "st" + remainder.
	streetAddress = regexp.MustCompile(
		`(?i)\b(\d+\s+[\w\s]+?(?:street|avenue|boulevard|drive|lane|court|road|way|st|ave|blvd|dr|ln|ct|rd))\b`)

	trailingPunct = regexp.MustCompile(`[.,;!?]+$`)
)

// HasStreetAddress reports whether text contains a street-address-shaped
// pattern (digit sequence + words + road-type suffix).
func HasStreetAddress(text string) bool {
	return streetAddress.MatchString(text)
}

// ExtractAddress pulls a street address out of a question, stripping lead-in
// phrases and trailing punctuation. Returns "" when no plausible address is
// present.
func ExtractAddress(query string) string {
	q := addressLeadIn.ReplaceAllString(query, "")
	m := streetAddress.FindStringSubmatch(q)
	if m == nil {
		return ""
	}
	addr := strings.TrimSpace(trailingPunct.ReplaceAllString(m[1], ""))
	addr = hspaceRun.ReplaceAllString(addr, " ")
	if len(addr) <= 5 {
		return ""
	}
	return addr
}

// Greeting prefixes and short-form words from the original 311 assistant.
var (
	greetingPrefixes = []string{
		"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
		"how are you", "what can you do", "what do you do", "help me",
		"what is this", "who are you", "introduce yourself",
	}
	greetingWords = map[string]struct{}{
		"hi": {}, "hello": {}, "hey": {}, "help": {},
	}
	acknowledgments = map[string]struct{}{
		"thanks": {}, "thank": {}, "ok": {}, "okay": {},
		"understood": {}, "helpful": {},
	}
)

// IsGreeting detects greetings and simple acknowledgments that need no
// retrieval: a canned reply suffices.
func IsGreeting(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}

	for _, p := range greetingPrefixes {
		if q == p || strings.HasPrefix(q, p+" ") || strings.HasPrefix(q, p+",") || strings.HasPrefix(q, p+"!") {
			return true
		}
	}

	words := strings.Fields(strings.Trim(q, ".,!?"))

	// Very short queries containing a greeting word are greetings
	// ("hey there!", "help please").
	if len(words) <= 3 {
		for _, w := range words {
			if _, ok := greetingWords[strings.Trim(w, ".,!?")]; ok {
				return true
			}
		}
	}

	// Simple acknowledgments ("thanks", "ok got it", "that helps").
	if len(words) <= 4 {
		for _, w := range words {
			if _, ok := acknowledgments[strings.Trim(w, ".,!?'")]; ok {
				return true
			}
		}
		if strings.Contains(q, "got it") || strings.Contains(q, "that helps") {
			return true
		}
	}

	return false
}
