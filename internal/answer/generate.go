// Package answer produces the natural-language reply for a question, under
// one of two generation contracts: grounded in knowledge-base context, or
// grounded in numbered official web sources with bracketed citations. It also
// owns the post-generation guards that catch a model ignoring its context or
// drifting into an unrelated category.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/log"
)

const systemPrompt = "You are a helpful assistant for the City of Kingston 311 service."

// Generator is the slice of the model client this package consumes.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateStream(ctx context.Context, system, prompt string, cb func(ctx context.Context, chunk string) error) (string, error)
}

// StreamFunc receives answer text fragments as they are produced.
type StreamFunc func(ctx context.Context, chunk string) error

// Config for a Writer. ContactPhone and CalendarURL are embedded into the
// fixed fallback sentences and the waste-collection schedule instruction.
type Config struct {
	Gen          Generator
	Logger       log.Logger
	ContactPhone string
	CalendarURL  string
}

func (c Config) validate() error {
	if c.Gen == nil {
		return errors.New("answer: generator is required")
	}
	if c.Logger == nil {
		return errors.New("answer: logger is required")
	}
	if c.ContactPhone == "" {
		return errors.New("answer: contact phone is required")
	}
	if c.CalendarURL == "" {
		return errors.New("answer: calendar URL is required")
	}
	return nil
}

// Writer generates answers under the route-specific contracts.
type Writer struct {
	gen    Generator
	logger log.Logger
	phone  string
	calURL string
}

func New(cfg Config) (*Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Writer{
		gen:    cfg.Gen,
		logger: cfg.Logger,
		phone:  cfg.ContactPhone,
		calURL: cfg.CalendarURL,
	}, nil
}

// MissingInfo is the fixed sentence the model is told to use when the
// supplied context lacks the answer.
func (w *Writer) MissingInfo() string {
	return fmt.Sprintf("I don't have that specific information. Please contact 311 at %s.", w.phone)
}

// NoContext is the fixed reply when assembly produced no context at all and
// every fallback route is exhausted.
func (w *Writer) NoContext() string {
	return fmt.Sprintf("I couldn't find specific information about that. Please try rephrasing your question or contact 311 at %s.", w.phone)
}

// CouldNotConfirm is the fixed sentence for the official-source contract when
// the fetched pages do not support an answer.
func (w *Writer) CouldNotConfirm() string {
	return fmt.Sprintf("I couldn't confirm that from the City's official pages. Please contact 311 at %s.", w.phone)
}

// Greeting is the fixed reply for greeting-only questions.
func (w *Writer) Greeting() string {
	return "Hello! I'm the City of Kingston 311 assistant. I can help answer questions about city services, policies, and information. What can I help you with today?"
}

// OutOfScope is the fixed reply for questions outside city services.
func (w *Writer) OutOfScope() string {
	return fmt.Sprintf("I can only help with questions about City of Kingston services. For anything else, please contact the appropriate organization, or call 311 at %s for city matters.", w.phone)
}

// NeedAddress asks for an address in a live collection-day lookup.
func (w *Writer) NeedAddress() string {
	return "Garbage collection days depend on your address. Please provide your address (e.g., '576 Division Street') so I can direct you to check your specific collection schedule."
}

// AddressNoted acknowledges an address and redirects to the official
// collection calendar. The calendar itself cannot be queried directly.
func (w *Writer) AddressNoted(address string) string {
	return fmt.Sprintf("I've noted your address: %s. To find your specific garbage collection day, please visit the City's official waste collection calendar at %s and enter your address there. The calendar will show you your exact collection schedule.", address, w.calURL)
}

// NotRelevant is the correction appended or substituted when validation
// rejects an answer.
func (w *Writer) NotRelevant() string {
	return fmt.Sprintf("I'm not sure that fully answers your question. For help with City of Kingston services, please contact 311 at %s.", w.phone)
}

func (w *Writer) knowledgePrompt(query string, blocks []string, category civic.Category) string {
	var schedule string
	if category == civic.CategoryWasteCollection {
		schedule = fmt.Sprintf(`
For schedule/collection questions ("when", "what day", "pickup", "collection day"):
- START with: "[Collection type] occurs on designated days as per the waste collection calendar."
- THEN add: All relevant schedule facts from context
- END WITH: "To find your specific collection day, enter your address at %s"
`, w.calURL)
	}

	return fmt.Sprintf(`Answer the user's question using ONLY the information provided in the context below.

CRITICAL RULES:
1. You MUST use information from the context provided - do not say "context is missing" or "I don't have context"
2. Provide complete, detailed answers from the context
3. Use simple, clear language
4. Include all relevant details: steps, requirements, deadlines, fees, etc.
5. If forms/applications are mentioned in context, explain the process
6. Answer ONLY about %s - do not mention unrelated topics
7. If the context doesn't contain the answer, say: %q
%s
Context from City of Kingston (%s):
%s

Question: %s

Answer (use the context above to provide a complete answer):`,
		category.Display(), w.MissingInfo(), schedule,
		category, strings.Join(blocks, "\n\n"), query)
}

func (w *Writer) sourcesPrompt(query string, blocks []string) string {
	return fmt.Sprintf(`Answer the user's question using ONLY the numbered official sources below.

RULES:
1. Every factual statement must cite its source with a bracketed number matching the list, e.g. [1] or [2]
2. Do not use any knowledge beyond the sources provided
3. If the sources do not confirm an answer, say exactly: %q
4. Use simple, clear language

Official sources:
%s

Question: %s

Answer (cite sources with bracketed numbers):`,
		w.CouldNotConfirm(), strings.Join(blocks, "\n\n"), query)
}

// FromKnowledge answers under the knowledge-base contract, buffered.
func (w *Writer) FromKnowledge(ctx context.Context, query string, blocks []string, category civic.Category) (string, error) {
	return w.gen.Generate(ctx, systemPrompt, w.knowledgePrompt(query, blocks, category))
}

// StreamKnowledge answers under the knowledge-base contract, invoking cb per
// fragment and returning the accumulated text.
func (w *Writer) StreamKnowledge(ctx context.Context, query string, blocks []string, category civic.Category, cb StreamFunc) (string, error) {
	return w.gen.GenerateStream(ctx, systemPrompt, w.knowledgePrompt(query, blocks, category), cb)
}

// FromSources answers under the official-source citation contract, buffered.
func (w *Writer) FromSources(ctx context.Context, query string, blocks []string) (string, error) {
	return w.gen.Generate(ctx, systemPrompt, w.sourcesPrompt(query, blocks))
}

// StreamSources answers under the official-source citation contract.
func (w *Writer) StreamSources(ctx context.Context, query string, blocks []string, cb StreamFunc) (string, error) {
	return w.gen.GenerateStream(ctx, systemPrompt, w.sourcesPrompt(query, blocks), cb)
}

// ClaimsMissingContext reports whether the answer denies having context even
// though context was supplied. Matches the common refusal phrasings only.
func ClaimsMissingContext(answer string) bool {
	lower := strings.ToLower(answer)
	if !strings.Contains(lower, "context") {
		return false
	}
	for _, phrase := range []string{"missing", "not provided", "seems that the context"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// LeaksCategory reports whether the answer mentions a term belonging to an
// unrelated category. Waste collection has no leak terms; its vocabulary
// legitimately overlaps with most other categories.
func LeaksCategory(answer string, category civic.Category) bool {
	terms := civic.LeakTerms(category)
	if len(terms) == 0 {
		return false
	}
	lower := strings.ToLower(answer)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// regenerateStricter reissues a completion under a tightened contract:
// instruction leads the prompt, closing restates the demand after the
// question. Both post-generation guards share this one operation.
func (w *Writer) regenerateStricter(ctx context.Context, query string, blocks []string, instruction, closing string) (string, error) {
	prompt := fmt.Sprintf(`%s

Context:
%s

Question: %s

%s`,
		instruction, strings.Join(blocks, "\n\n"), query, closing)
	return w.gen.Generate(ctx, systemPrompt, prompt)
}

// Reinforce inspects a buffered knowledge-base answer and regenerates it with
// a stricter prompt when the model ignored its context or drifted off
// category. Each guard fires at most once; a regeneration failure keeps the
// original answer.
func (w *Writer) Reinforce(ctx context.Context, query, got string, blocks []string, category civic.Category) string {
	if ClaimsMissingContext(got) {
		regen, err := w.regenerateStricter(ctx, query, blocks,
			"You MUST answer using the context provided below. The context contains the answer - use it.",
			"Answer the question using the information from the context above. Do not say the context is missing - it is provided above:")
		if err != nil {
			w.logger.Warn("grounded regeneration failed", "error", err)
		} else {
			got = regen
		}
	}
	if LeaksCategory(got, category) {
		regen, err := w.regenerateStricter(ctx, query, blocks,
			fmt.Sprintf("Answer ONLY about %s. Do NOT mention garbage, waste collection, parking permits, property tax, or any other topics.", category.Display()),
			fmt.Sprintf("Answer (ONLY %s):", category.Display()))
		if err != nil {
			w.logger.Warn("on-topic regeneration failed", "error", err)
		} else {
			got = regen
		}
	}
	return got
}
