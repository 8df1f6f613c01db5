package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/log"
)

// Result is one relevance verdict. Confidence is a coarse signal: 1.0 for a
// parsed verdict, 0.5 when the validator failed and we assumed relevance.
type Result struct {
	Relevant   bool
	Confidence float64
	Reason     string
}

// stopwords are excluded from the content-word overlap pre-check.
var stopwords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "which": {}, "does": {}, "do": {},
	"how": {}, "can": {}, "is": {}, "are": {}, "the": {}, "a": {}, "an": {},
	"my": {}, "your": {}, "for": {}, "about": {}, "with": {}, "this": {},
	"that": {}, "there": {}, "have": {}, "need": {}, "want": {}, "know": {},
	"city": {}, "kingston": {},
}

// ContentWords extracts the meaningful words of a question: longer than three
// characters and not in the stopword set.
func ContentWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) <= 3 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		words = append(words, w)
	}
	return words
}

// Validator checks whether a generated answer is relevant to its question.
type Validator struct {
	gen    Generator
	logger log.Logger
}

func NewValidator(gen Generator, logger log.Logger) *Validator {
	return &Validator{gen: gen, logger: logger}
}

// PreCheck is the cheap pre-generation screen. It returns false when the
// category is the out-of-scope sentinel, true when the question has too few
// content words to judge, and otherwise requires at least one content word to
// appear in the context sample.
func (v *Validator) PreCheck(question, contextSample string, category civic.Category) bool {
	if category == civic.CategoryNone {
		return false
	}
	words := ContentWords(question)
	if len(words) <= 2 {
		return true
	}
	sample := strings.ToLower(contextSample)
	for _, w := range words {
		if strings.Contains(sample, w) {
			return true
		}
	}
	return false
}

const validateSystem = "You are a strict relevance checker for a municipal 311 assistant. Reply with YES or NO only, optionally followed by a short reason after a colon."

// Validate runs the post-generation relevance check. Any generation or parse
// failure is fail-open: the answer is assumed relevant and the failure logged,
// so validator flakiness never blocks an answer.
func (v *Validator) Validate(ctx context.Context, question, answer string, category civic.Category) Result {
	prompt := fmt.Sprintf(`Question: %s

Answer: %s

Does the answer address the question and stay on the topic of %s? Reply YES or NO, optionally followed by a colon and a short reason.`,
		question, answer, category.Display())

	raw, err := v.gen.Generate(ctx, validateSystem, prompt)
	if err != nil {
		v.logger.Warn("relevance validation failed, assuming relevant", "error", err)
		return Result{Relevant: true, Confidence: 0.5, Reason: "validator unavailable"}
	}

	verdict, reason, ok := parseVerdict(raw)
	if !ok {
		v.logger.Warn("unparseable relevance verdict, assuming relevant", "verdict", raw)
		return Result{Relevant: true, Confidence: 0.5, Reason: "unparseable verdict"}
	}
	return Result{Relevant: verdict, Confidence: 1.0, Reason: reason}
}

func parseVerdict(raw string) (relevant bool, reason string, ok bool) {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	head, rest, _ := strings.Cut(line, ":")
	reason = strings.TrimSpace(rest)

	switch strings.ToUpper(strings.TrimSpace(strings.Trim(head, ".!"))) {
	case "YES":
		return true, reason, true
	case "NO":
		return false, reason, true
	default:
		return false, "", false
	}
}
