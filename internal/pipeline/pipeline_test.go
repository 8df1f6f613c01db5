package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civickit/k311/internal/answer"
	"github.com/civickit/k311/internal/classify"
	"github.com/civickit/k311/internal/dynamic"
	"github.com/civickit/k311/internal/lang"
	"github.com/civickit/k311/internal/log"
	"github.com/civickit/k311/internal/retrieve"
)

const calendarURL = "https://www.cityofkingston.ca/garbage-and-recycling/collection-calendar/"

// scriptedGen answers generation calls by inspecting the system prompt, so
// one fake serves the classifier, the writer, and the validator at once.
type scriptedGen struct {
	classify string // empty degrades the classifier to its keyword fallback
	answer   string
	verdict  string
	err      error
}

func (g *scriptedGen) Generate(_ context.Context, system, _ string) (string, error) {
	if strings.Contains(system, "classify questions") {
		if g.classify == "" {
			return "", errors.New("classifier offline")
		}
		return g.classify, nil
	}
	if g.err != nil {
		return "", g.err
	}
	if strings.Contains(system, "relevance checker") {
		return g.verdict, nil
	}
	return g.answer, nil
}

func (g *scriptedGen) GenerateStream(ctx context.Context, system, prompt string, cb func(context.Context, string) error) (string, error) {
	full, err := g.Generate(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	for _, chunk := range strings.SplitAfter(full, " ") {
		if err := cb(ctx, chunk); err != nil {
			return "", err
		}
	}
	return full, nil
}

type fakeSearcher struct {
	matches  []retrieve.Match
	err      error
	calls    int
	lastTopK int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, topK int) ([]retrieve.Match, error) {
	f.calls++
	f.lastTopK = topK
	return f.matches, f.err
}

type fakeResolver struct {
	sources []dynamic.Source
}

func (f *fakeResolver) Resolve(bucket dynamic.Bucket, _ int) []dynamic.Source {
	if bucket == dynamic.BucketNone {
		return nil
	}
	return f.sources
}

func pageBody(seed string) string {
	return seed + " " + strings.Repeat("Princess Street remains closed between Division and Barrie. ", 4)
}

type env struct {
	gen      *scriptedGen
	searcher *fakeSearcher
	resolver *fakeResolver
	fetchErr error
	pipe     *Pipeline
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		gen:      &scriptedGen{answer: "Generated answer.", verdict: "YES"},
		searcher: &fakeSearcher{},
		resolver: &fakeResolver{},
	}

	w, err := answer.New(answer.Config{
		Gen:          e.gen,
		Logger:       log.NewNop(),
		ContactPhone: "613-546-0000",
		CalendarURL:  calendarURL,
	})
	require.NoError(t, err)

	fetch := func(_ context.Context, pageURL string) (string, string, error) {
		if e.fetchErr != nil {
			return "", "", e.fetchErr
		}
		return "Page", pageBody(pageURL), nil
	}

	e.pipe, err = New(Config{
		Classifier: classify.New(e.gen, log.NewNop()),
		Searcher:   e.searcher,
		Sources:    e.resolver,
		Fetch:      fetch,
		Writer:     w,
		Validator:  answer.NewValidator(e.gen, log.NewNop()),
		Lang:       lang.New(nil, log.NewNop()),
		Logger:     log.NewNop(),
	})
	require.NoError(t, err)
	return e
}

func kbMatch(score float64, seed, category, url string) retrieve.Match {
	return retrieve.Match{
		Score:     score,
		Content:   seed + " " + strings.Repeat("Permits are issued by the City of Kingston parking office. ", 3),
		Category:  category,
		Topic:     "Permits",
		SourceURL: url,
	}
}

func TestAnswerGreeting(t *testing.T) {
	e := newEnv(t)

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "hello"})
	require.NoError(t, err)

	assert.Equal(t, string(classify.IntentGreeting), resp.Intent)
	assert.Contains(t, resp.Answer, "311 assistant")
	assert.Empty(t, resp.Results)
	assert.Zero(t, e.searcher.calls, "greetings must not hit retrieval")
}

func TestAnswerLiveLookupWithAddress(t *testing.T) {
	e := newEnv(t)

	resp, err := e.pipe.Answer(context.Background(),
		Request{Query: "what day is garbage collected at 123 Main Street"})
	require.NoError(t, err)

	assert.Equal(t, string(classify.IntentLiveStatus), resp.Intent)
	assert.Equal(t, StateAddressReceived, resp.WorkflowState)
	assert.False(t, resp.RequiresAddress)
	assert.Contains(t, resp.Answer, "123 Main Street")
	assert.Contains(t, resp.Answer, calendarURL)
	assert.Empty(t, resp.Results)
	assert.Zero(t, e.searcher.calls, "live lookups must not hit retrieval")
}

func TestAnswerLiveLookupWithoutAddress(t *testing.T) {
	e := newEnv(t)
	// The keyword fallback needs an address to pick live_status_lookup, so
	// this dialog state comes from the primary classifier.
	e.gen.classify = "live_status_lookup|waste_collection"

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "when is my garbage pickup day"})
	require.NoError(t, err)

	assert.Equal(t, StateWaitingForAddress, resp.WorkflowState)
	assert.True(t, resp.RequiresAddress)
	assert.Contains(t, resp.Answer, "address")
}

func TestAnswerKnowledgeRoute(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}
	e.gen.answer = "Overnight   parking requires a permit."

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "do I need a permit for overnight parking"})
	require.NoError(t, err)

	assert.Equal(t, string(classify.IntentPolicy), resp.Intent)
	assert.Equal(t, "Overnight parking requires a permit.", resp.Answer, "whitespace must be folded")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://www.cityofkingston.ca/parking", resp.Results[0].SourceURL)
}

func TestAnswerHonorsRequestTopK(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}

	_, err := e.pipe.Answer(context.Background(),
		Request{Query: "do I need a permit for overnight parking", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, e.searcher.lastTopK, "searcher must see the requested top_k")

	// Zero falls back to the configured default.
	_, err = e.pipe.Answer(context.Background(),
		Request{Query: "do I need a permit for overnight parking"})
	require.NoError(t, err)
	assert.Equal(t, 5, e.searcher.lastTopK)
}

func TestAnswerDynamicRouteWithFetchedPages(t *testing.T) {
	e := newEnv(t)
	e.resolver.sources = []dynamic.Source{
		{Title: "Road Closures", URL: "https://www.cityofkingston.ca/road-closures"},
	}
	e.gen.answer = "Princess Street is closed this week [1]."

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "are there any road closures downtown"})
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "[1]")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://www.cityofkingston.ca/road-closures", resp.Results[0].SourceURL)
	assert.Zero(t, e.searcher.calls, "dynamic route must not hit retrieval")
}

func TestAnswerDynamicRouteNetworkDown(t *testing.T) {
	e := newEnv(t)
	e.resolver.sources = []dynamic.Source{
		{Title: "Road Closures", URL: "https://www.cityofkingston.ca/road-closures"},
	}
	e.fetchErr = errors.New("dial tcp: connection refused")

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "are there any road closures downtown"})
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "couldn't confirm")
	assert.Empty(t, resp.Results)
}

func TestAnswerNoContextFallsBackToApology(t *testing.T) {
	e := newEnv(t)
	// No matches, no dynamic sources: the cascade ends at the fixed apology.
	resp, err := e.pipe.Answer(context.Background(), Request{Query: "how do I appeal my property tax assessment"})
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "couldn't find specific information")
	assert.Contains(t, resp.Answer, "613-546-0000")
	assert.Empty(t, resp.Results)
}

func TestAnswerValidatorRejectionClearsResults(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}
	e.gen.answer = "Parking permits are issued by the City of Kingston parking office."
	e.gen.verdict = "NO: does not address the question"

	resp, err := e.pipe.Answer(context.Background(), Request{Query: "do I need a permit for overnight parking"})
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "not sure that fully answers")
	assert.Empty(t, resp.Results, "rejected answers must not display sources")
}

func TestStreamKnowledgeRoute(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}
	e.gen.answer = "Overnight parking requires a permit."

	var events []Event
	err := e.pipe.Stream(context.Background(),
		Request{Query: "do I need a permit for overnight parking"},
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var streamed strings.Builder
	sawResults, sawDone := false, false
	for _, ev := range events {
		switch ev.Type {
		case "text":
			streamed.WriteString(ev.Content)
		case "results":
			sawResults = true
			require.Len(t, ev.Results, 1)
		case "done":
			sawDone = true
		}
	}
	assert.Equal(t, "Overnight parking requires a permit.", streamed.String())
	assert.True(t, sawResults, "stream must carry a results event")
	assert.True(t, sawDone, "stream must end with a done event")
	assert.Equal(t, "done", events[len(events)-1].Type)
}

func TestStreamCannedResponseIsSingleEvent(t *testing.T) {
	e := newEnv(t)

	var events []Event
	err := e.pipe.Stream(context.Background(), Request{Query: "hello"}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "text", events[0].Type)
	assert.True(t, events[0].Done)
	assert.Contains(t, events[0].Content, "311 assistant")
}

func TestStreamValidatorRejectionAppendsCorrection(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}
	e.gen.answer = "Parking permits are issued by the City of Kingston parking office."
	e.gen.verdict = "NO: off topic"

	var events []Event
	err := e.pipe.Stream(context.Background(),
		Request{Query: "do I need a permit for overnight parking"},
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})
	require.NoError(t, err)

	var full strings.Builder
	for _, ev := range events {
		if ev.Type == "text" {
			full.WriteString(ev.Content)
		}
		if ev.Type == "results" {
			assert.Empty(t, ev.Results, "rejected answers must clear streamed sources")
		}
	}
	// Streamed tokens stay; the correction arrives as an appended chunk.
	assert.Contains(t, full.String(), "Parking permits are issued")
	assert.Contains(t, full.String(), "not sure that fully answers")
}

func TestStreamGenerationErrorEmitsErrorEvent(t *testing.T) {
	e := newEnv(t)
	e.searcher.matches = []retrieve.Match{
		kbMatch(0.9, "Overnight parking requires a monthly permit.", "parking", "https://www.cityofkingston.ca/parking"),
	}
	e.gen.err = errors.New("model unavailable")

	var events []Event
	err := e.pipe.Stream(context.Background(),
		Request{Query: "do I need a permit for overnight parking"},
		func(ev Event) error {
			events = append(events, ev)
			return nil
		})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[len(events)-1].Type)
}
