package civic

import (
	"regexp"
	"strings"
)

var (
	nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)

	// Navigation and letterhead lines that page scraping drags along.
	// Matched as whole lines only: CleanContent is a filter, not a
	// classifier, and must never remove content it cannot positively
	// identify as boilerplate.
	boilerplateLine = regexp.MustCompile(
		`(?im)^[ \t]*(?:section menu|browse the section menu|skip to (?:main )?content|main navigation|learn more)[ \t.]*$`)
	letterheadLine = regexp.MustCompile(
		`(?im)^[ \t]*(?:the corporation of the city of kingston|city of kingston 216 ontario street)[ \t.,]*$`)

	// The mailing-address/cheque-payment paragraph, bounded at the next
	// blank line or end of text.
	chequeParagraph = regexp.MustCompile(
		`(?is)(?:make[ \t]+(?:your[ \t]+)?)?cheques?[ \t]+payable[ \t]+to.*?(?:\n[ \t]*\n|\z)`)

	hspaceRun  = regexp.MustCompile(`[ \t]{2,}`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// NormalizeCategory canonicalizes a free-form category label: lower-case,
// any run of non-alphanumeric characters becomes a single underscore, and
// leading/trailing underscores are trimmed. Labels differing only by case,
// spacing, or punctuation style normalize identically.
func NormalizeCategory(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = nonAlnumRun.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// CleanContent strips known boilerplate from scraped page text and folds
// whitespace: runs of horizontal whitespace collapse to one space, three or
// more consecutive newlines collapse to exactly two. Idempotent, never grows
// its input, and returns "" for empty input.
func CleanContent(raw string) string {
	if raw == "" {
		return ""
	}
	s := chequeParagraph.ReplaceAllString(raw, "")
	s = boilerplateLine.ReplaceAllString(s, "")
	s = letterheadLine.ReplaceAllString(s, "")
	s = hspaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FoldWhitespace collapses all whitespace runs in s to single spaces.
// Applied to fully buffered answers before they are returned as one string.
func FoldWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
