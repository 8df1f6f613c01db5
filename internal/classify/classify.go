// Package classify routes a question to an (intent, category) pair.
//
// Two strategies run in order: a single LLM call with a strict
// "intent|category" response contract, then a deterministic keyword strategy
// used whenever the call fails or its response cannot be parsed. Classification
// is total: every question gets exactly one valid pair.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/log"
)

// Intent is the routing decision level above Category.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentOutOfScope Intent = "out_of_scope"
	IntentLiveStatus Intent = "live_status_lookup"
	IntentPolicy     Intent = "policy_explanatory"
)

// Decision is the classification result: exactly one intent/category pair
// per question.
type Decision struct {
	Intent   Intent
	Category civic.Category
}

// Generator is the text-generation surface the primary strategy needs.
// Satisfied by *llm.Client.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

const classifySystem = "You classify questions for the City of Kingston 311 service. " +
	"Respond with exactly one line in the form intent|category and nothing else."

const classifyPromptFormat = `Classify this resident question.

intent must be one of: live_status_lookup, policy_explanatory, out_of_scope.
live_status_lookup is only for questions about a specific address's collection schedule.
category must be one of: parking, property_tax, waste_collection, hazardous_waste, fire_permits, noise, none.

Question: %s

Answer (intent|category):`

// Classifier applies the primary LLM strategy with the keyword fallback.
type Classifier struct {
	gen    Generator
	logger log.Logger
}

// New creates a Classifier. gen may be nil, in which case only the keyword
// strategy is used.
func New(gen Generator, logger log.Logger) *Classifier {
	return &Classifier{gen: gen, logger: logger}
}

// Classify returns the routing decision for a question. It never fails:
// any upstream or parse error degrades to the keyword strategy.
func (c *Classifier) Classify(ctx context.Context, question string) Decision {
	if c.gen != nil {
		dec, err := c.classifyLLM(ctx, question)
		if err == nil {
			return dec
		}
		c.logger.Debug("primary classification failed, using keyword fallback", "error", err)
	}
	return KeywordClassify(question)
}

// classifyLLM issues the primary classification call and parses its strict
// two-part response.
func (c *Classifier) classifyLLM(ctx context.Context, question string) (Decision, error) {
	resp, err := c.gen.Generate(ctx, classifySystem, fmt.Sprintf(classifyPromptFormat, question))
	if err != nil {
		return Decision{}, fmt.Errorf("classification call: %w", err)
	}
	return parseDecision(resp)
}

// parseDecision parses a strict "intent|category" response. Anything that
// does not resolve to a known pair is a parse failure.
func parseDecision(resp string) (Decision, error) {
	line := strings.TrimSpace(resp)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	parts := strings.SplitN(line, "|", 2)
	if len(parts) != 2 {
		return Decision{}, fmt.Errorf("malformed classifier response %q", resp)
	}

	intent := Intent(civic.NormalizeCategory(parts[0]))
	category := civic.ParseCategory(parts[1])

	switch intent {
	case IntentLiveStatus, IntentPolicy:
	case IntentOutOfScope:
		return Decision{IntentOutOfScope, civic.CategoryNone}, nil
	default:
		return Decision{}, fmt.Errorf("unknown intent %q", parts[0])
	}

	if category == civic.CategoryNone {
		return Decision{IntentOutOfScope, civic.CategoryNone}, nil
	}
	return Decision{intent, category}, nil
}
