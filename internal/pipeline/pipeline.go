// Package pipeline orchestrates one question end to end: language detection,
// intent classification, route selection, retrieval or live page fetching,
// answer generation, and post-generation relevance validation with its
// fallback cascade. Both the buffered and the streaming entry points share
// one routing pass, so a question always takes the same route regardless of
// transport.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/civickit/k311/internal/answer"
	"github.com/civickit/k311/internal/assemble"
	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/classify"
	"github.com/civickit/k311/internal/dynamic"
	"github.com/civickit/k311/internal/lang"
	"github.com/civickit/k311/internal/log"
	"github.com/civickit/k311/internal/retrieve"
)

// Workflow states for the live collection-day lookup dialog.
const (
	StateWaitingForAddress = "WAITING_FOR_ADDRESS"
	StateAddressReceived   = "ADDRESS_RECEIVED"
)

const (
	defaultTopK       = 5
	defaultMaxSources = 5

	// Validation reads at most this much assembled context.
	contextSampleLimit = 2000
)

// Request is one user question.
type Request struct {
	Query     string    `json:"query"`
	TopK      int       `json:"top_k"`
	Language  lang.Lang `json:"language"`
	SessionID string    `json:"session_id"`
}

// Response is the buffered reply.
type Response struct {
	Query           string          `json:"query"`
	Answer          string          `json:"answer"`
	Results         []assemble.Item `json:"results"`
	Intent          string          `json:"intent"`
	RequiresAddress bool            `json:"requires_address"`
	WorkflowState   string          `json:"workflow_state,omitempty"`
}

// Event is one streamed server-sent event payload.
type Event struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Done    bool            `json:"done,omitempty"`
	Results []assemble.Item `json:"results,omitempty"`
}

// EmitFunc delivers one event to the client. An error aborts the stream.
type EmitFunc func(Event) error

// Searcher runs a vector similarity search over the knowledge base.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieve.Match, error)
}

// SourceResolver produces candidate official URLs for a dynamic bucket.
type SourceResolver interface {
	Resolve(bucket dynamic.Bucket, maxResults int) []dynamic.Source
}

// Config wires the pipeline's collaborators.
type Config struct {
	Classifier *classify.Classifier
	Searcher   Searcher
	Sources    SourceResolver
	Fetch      assemble.FetchFunc
	Writer     *answer.Writer
	Validator  *answer.Validator
	Lang       *lang.Adapter
	Logger     log.Logger

	TopK       int
	MaxSources int
}

func (c Config) validate() error {
	switch {
	case c.Classifier == nil:
		return errors.New("pipeline: classifier is required")
	case c.Searcher == nil:
		return errors.New("pipeline: searcher is required")
	case c.Sources == nil:
		return errors.New("pipeline: source resolver is required")
	case c.Fetch == nil:
		return errors.New("pipeline: page fetcher is required")
	case c.Writer == nil:
		return errors.New("pipeline: answer writer is required")
	case c.Validator == nil:
		return errors.New("pipeline: validator is required")
	case c.Lang == nil:
		return errors.New("pipeline: language adapter is required")
	case c.Logger == nil:
		return errors.New("pipeline: logger is required")
	}
	return nil
}

// Pipeline answers questions.
type Pipeline struct {
	classifier *classify.Classifier
	searcher   Searcher
	sources    SourceResolver
	fetch      assemble.FetchFunc
	writer     *answer.Writer
	validator  *answer.Validator
	lang       *lang.Adapter
	logger     log.Logger
	topK       int
	maxSources int
}

func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = defaultMaxSources
	}
	return &Pipeline{
		classifier: cfg.Classifier,
		searcher:   cfg.Searcher,
		sources:    cfg.Sources,
		fetch:      cfg.Fetch,
		writer:     cfg.Writer,
		validator:  cfg.Validator,
		lang:       cfg.Lang,
		logger:     cfg.Logger,
		topK:       cfg.TopK,
		maxSources: cfg.MaxSources,
	}, nil
}

// route is the shared outcome of the decision stages. For canned routes the
// answer is already final; for generated routes it carries the inputs the
// generation stage needs.
type route struct {
	query    string // English working copy of the question
	language lang.Lang
	topK     int
	decision classify.Decision
	bucket   dynamic.Bucket

	canned          string // non-empty for greeting / out-of-scope / live-status
	requiresAddress bool
	workflowState   string
}

func (p *Pipeline) route(ctx context.Context, req Request) route {
	language := req.Language
	if language == "" || language == lang.Auto {
		language = p.lang.Detect(ctx, req.Query)
	}

	query := req.Query
	if language == lang.French {
		query = p.lang.Translate(ctx, query, lang.French, lang.English)
	}

	r := route{query: query, language: language, topK: p.topK}
	if req.TopK > 0 {
		r.topK = req.TopK
	}

	if civic.IsGreeting(query) {
		r.decision = classify.Decision{Intent: classify.IntentGreeting, Category: civic.CategoryNone}
		r.canned = p.writer.Greeting()
		return r
	}

	r.decision = p.classifier.Classify(ctx, query)
	r.bucket = dynamic.ClassifyBucket(query)

	switch r.decision.Intent {
	case classify.IntentOutOfScope:
		r.canned = p.writer.OutOfScope()
	case classify.IntentLiveStatus:
		// Live lookups never touch retrieval; the official calendar is the
		// only authority for per-address schedules.
		if addr := civic.ExtractAddress(query); addr != "" {
			r.canned = p.writer.AddressNoted(addr)
			r.workflowState = StateAddressReceived
		} else {
			r.canned = p.writer.NeedAddress()
			r.workflowState = StateWaitingForAddress
			r.requiresAddress = true
		}
	}
	return r
}

// Answer runs the buffered path.
func (p *Pipeline) Answer(ctx context.Context, req Request) (Response, error) {
	r := p.route(ctx, req)
	p.logger.Info("routed query",
		"session_id", req.SessionID,
		"intent", r.decision.Intent,
		"category", r.decision.Category,
		"bucket", r.bucket,
		"language", r.language,
	)
	resp := Response{
		Query:           req.Query,
		Intent:          string(r.decision.Intent),
		RequiresAddress: r.requiresAddress,
		WorkflowState:   r.workflowState,
		Results:         []assemble.Item{},
	}

	if r.canned != "" {
		resp.Answer = p.localize(ctx, r, r.canned)
		return resp, nil
	}

	var (
		text    string
		results []assemble.Item
		err     error
	)
	if r.bucket != dynamic.BucketNone {
		text, results, err = p.answerDynamic(ctx, r, nil)
	} else {
		text, results, err = p.answerKnowledge(ctx, r, nil)
	}
	if err != nil {
		return Response{}, err
	}

	text, results = p.finish(ctx, r, text, results)
	resp.Answer = p.localize(ctx, r, civic.FoldWhitespace(text))
	resp.Results = results
	return resp, nil
}

// Stream runs the streaming path. French answers are buffered and delivered
// as one final event, since chunks cannot be translated incrementally.
func (p *Pipeline) Stream(ctx context.Context, req Request, emit EmitFunc) error {
	r := p.route(ctx, req)
	p.logger.Info("routed query",
		"session_id", req.SessionID,
		"intent", r.decision.Intent,
		"category", r.decision.Category,
		"bucket", r.bucket,
		"language", r.language,
	)

	if r.canned != "" {
		return emit(Event{Type: "text", Content: p.localize(ctx, r, r.canned), Done: true})
	}

	// cb forwards chunks immediately for English; for French the accumulated
	// text is translated and emitted once at the end.
	var cb answer.StreamFunc
	if r.language != lang.French {
		cb = func(_ context.Context, chunk string) error {
			return emit(Event{Type: "text", Content: chunk})
		}
	}

	var (
		text    string
		results []assemble.Item
		err     error
	)
	if r.bucket != dynamic.BucketNone {
		text, results, err = p.answerDynamic(ctx, r, cb)
	} else {
		text, results, err = p.answerKnowledge(ctx, r, cb)
	}
	if err != nil {
		// Tokens may already be on the wire; the error event is explicit
		// rather than a silent truncation.
		p.logger.Error("stream generation failed", "error", err)
		return emit(Event{Type: "error", Content: "answer generation failed"})
	}

	corrected, results := p.finish(ctx, r, text, results)

	if r.language == lang.French {
		translated := p.localize(ctx, r, civic.FoldWhitespace(corrected))
		if err := emit(Event{Type: "text", Content: translated, Done: true}); err != nil {
			return err
		}
	} else if appended := strings.TrimPrefix(corrected, text); appended != corrected && appended != "" {
		// Append-only correction: streamed text cannot be retracted.
		if err := emit(Event{Type: "text", Content: appended}); err != nil {
			return err
		}
	}

	if err := emit(Event{Type: "results", Results: results}); err != nil {
		return err
	}
	return emit(Event{Type: "done"})
}

// answerKnowledge is the static knowledge-base route with its fallback
// cascade: category-filtered assembly retries unfiltered inside the
// assembler; if assembly still yields nothing, the dynamic route is tried;
// if that also yields nothing, the fixed apology stands.
func (p *Pipeline) answerKnowledge(ctx context.Context, r route, cb answer.StreamFunc) (string, []assemble.Item, error) {
	matches, err := p.searcher.Search(ctx, r.query, r.topK)
	if err != nil {
		p.logger.Error("knowledge search failed", "error", err)
		matches = nil
	}

	assembled := assemble.Context(matches, r.decision.Category, r.topK)
	if len(assembled.Blocks) == 0 {
		p.logger.Info("no usable context, trying dynamic fallback", "category", r.decision.Category)
		text, results, derr := p.answerDynamic(ctx, r, cb)
		if derr != nil {
			return "", nil, derr
		}
		if text != "" {
			return text, results, nil
		}
		apology := p.writer.NoContext()
		if cb != nil {
			if err := cb(ctx, apology); err != nil {
				return "", nil, err
			}
		}
		return apology, []assemble.Item{}, nil
	}

	var text string
	if cb != nil {
		text, err = p.writer.StreamKnowledge(ctx, r.query, assembled.Blocks, r.decision.Category, cb)
	} else {
		text, err = p.writer.FromKnowledge(ctx, r.query, assembled.Blocks, r.decision.Category)
		if err == nil {
			// Stricter regeneration is only possible before any text has
			// reached the client.
			text = p.writer.Reinforce(ctx, r.query, text, assembled.Blocks, r.decision.Category)
		}
	}
	if err != nil {
		return "", nil, err
	}

	text = p.enrichForms(text, assembled.Results)
	return text, assembled.Results, nil
}

// answerDynamic is the live official-site route.
func (p *Pipeline) answerDynamic(ctx context.Context, r route, cb answer.StreamFunc) (string, []assemble.Item, error) {
	sources := p.sources.Resolve(r.bucket, p.maxSources)
	if len(sources) == 0 {
		return "", []assemble.Item{}, nil
	}

	pages, blocks := assemble.Pages(ctx, p.fetch, sources, p.logger)
	if len(blocks) == 0 {
		// Sources resolved but nothing fetched; answer honestly rather than
		// guessing.
		confirm := p.writer.CouldNotConfirm()
		if cb != nil {
			if err := cb(ctx, confirm); err != nil {
				return "", nil, err
			}
		}
		return confirm, []assemble.Item{}, nil
	}

	var (
		text string
		err  error
	)
	if cb != nil {
		text, err = p.writer.StreamSources(ctx, r.query, blocks, cb)
	} else {
		text, err = p.writer.FromSources(ctx, r.query, blocks)
	}
	if err != nil {
		return "", nil, err
	}
	return text, sourceItems(pages), nil
}

// finish runs relevance validation and applies the append-only correction.
// A rejected answer keeps its text, gains the fixed correction sentence, and
// loses its displayed sources.
func (p *Pipeline) finish(ctx context.Context, r route, text string, results []assemble.Item) (string, []assemble.Item) {
	if len(results) == 0 {
		// Canned fallbacks carry no sources and need no validation.
		return text, []assemble.Item{}
	}

	relevant := p.validator.PreCheck(r.query, contextSample(results), r.decision.Category)
	if relevant {
		verdict := p.validator.Validate(ctx, r.query, text, r.decision.Category)
		relevant = verdict.Relevant
		if !relevant {
			p.logger.Info("answer rejected by validator", "reason", verdict.Reason)
		}
	} else {
		p.logger.Info("answer rejected by pre-check", "category", r.decision.Category)
	}

	if !relevant {
		return text + "\n\n" + p.writer.NotRelevant(), []assemble.Item{}
	}
	return text, results
}

// localize renders a final answer into the request language.
func (p *Pipeline) localize(ctx context.Context, r route, text string) string {
	if r.language != lang.French {
		return text
	}
	return p.lang.Translate(ctx, text, lang.English, lang.French)
}

// enrichForms appends the top source link when the answer discusses a form or
// application but cites no URL itself.
func (p *Pipeline) enrichForms(text string, results []assemble.Item) string {
	lower := strings.ToLower(text)
	mentioned := false
	for _, kw := range []string{"form", "application", "apply", "submit"} {
		if strings.Contains(lower, kw) {
			mentioned = true
			break
		}
	}
	if !mentioned || strings.Contains(lower, "http") {
		return text
	}
	for _, item := range results {
		if item.SourceURL != "" {
			return text + "\n\nTo apply, visit: " + item.SourceURL
		}
	}
	return text
}

// sourceItems builds display records for fetched official pages.
func sourceItems(pages []assemble.Page) []assemble.Item {
	items := make([]assemble.Item, 0, len(pages))
	for _, pg := range pages {
		items = append(items, assemble.Item{
			Content:   assemble.Truncate(pg.Text, assemble.DisplayLimit),
			Topic:     pg.Source.Title,
			SourceURL: pg.Source.URL,
		})
	}
	return items
}

// contextSample concatenates display content for the validation pre-check.
func contextSample(results []assemble.Item) string {
	var b strings.Builder
	for _, r := range results {
		if b.Len() >= contextSampleLimit {
			break
		}
		b.WriteString(r.Content)
		b.WriteString("\n")
		b.WriteString(r.Topic)
		b.WriteString("\n")
	}
	return b.String()
}
