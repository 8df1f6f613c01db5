package assemble

import (
	"strings"
	"testing"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/retrieve"
)

func longContent(seed string) string {
	return seed + " " + strings.Repeat("Kingston residents can find full details on the city website. ", 3)
}

func TestContextOrdersByScore(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.40, Content: longContent("low"), Category: "parking", SourceURL: "https://example.com/a"},
		{Score: 0.90, Content: longContent("high"), Category: "parking", SourceURL: "https://example.com/b"},
		{Score: 0.70, Content: longContent("mid"), Category: "parking", SourceURL: "https://example.com/c"},
	}

	got := Context(matches, civic.CategoryParking, 3)
	if len(got.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got.Results))
	}
	for i := 1; i < len(got.Results); i++ {
		if got.Results[i].Score > got.Results[i-1].Score {
			t.Fatalf("results not in descending score order: %v then %v",
				got.Results[i-1].Score, got.Results[i].Score)
		}
	}
	if !strings.HasPrefix(got.Results[0].Content, "high") {
		t.Fatalf("top result = %q, want the highest-scored match", got.Results[0].Content[:20])
	}
}

func TestContextDeduplicatesSources(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.9, Content: longContent("first"), Category: "parking", SourceURL: "https://example.com/same"},
		{Score: 0.8, Content: longContent("second"), Category: "parking", SourceURL: "https://example.com/same"},
		{Score: 0.7, Content: longContent("third"), Category: "parking", SourceURL: "https://example.com/other"},
	}

	got := Context(matches, civic.CategoryParking, 3)
	if len(got.Results) != 2 {
		t.Fatalf("expected duplicate source dropped, got %d results", len(got.Results))
	}
	seen := map[string]bool{}
	for _, r := range got.Results {
		if seen[r.SourceURL] {
			t.Fatalf("duplicate source URL in output: %s", r.SourceURL)
		}
		seen[r.SourceURL] = true
	}
}

func TestContextAllowsDistinctItemsWithoutSource(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.9, Content: longContent("first"), Category: "noise"},
		{Score: 0.8, Content: longContent("second"), Category: "noise"},
	}

	got := Context(matches, civic.CategoryNoise, 5)
	if len(got.Results) != 2 {
		t.Fatalf("items without source URLs should not dedup against each other, got %d", len(got.Results))
	}
}

func TestContextDropsShortContent(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.9, Content: "too short", Category: "parking", SourceURL: "https://example.com/a"},
		{Score: 0.8, Content: longContent("kept"), Category: "parking", SourceURL: "https://example.com/b"},
	}

	got := Context(matches, civic.CategoryParking, 5)
	if len(got.Results) != 1 {
		t.Fatalf("expected short content dropped, got %d results", len(got.Results))
	}
	if got.Results[0].SourceURL != "https://example.com/b" {
		t.Fatalf("wrong survivor: %s", got.Results[0].SourceURL)
	}
}

func TestContextCategoryFilterWithFallback(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.9, Content: longContent("tax"), Category: "Property Tax", SourceURL: "https://example.com/tax"},
		{Score: 0.5, Content: longContent("parking"), Category: "parking", SourceURL: "https://example.com/park"},
	}

	// Filtered pass keeps only the matching category, normalizing its spelling.
	got := Context(matches, civic.CategoryPropertyTax, 5)
	if len(got.Results) != 1 || got.Results[0].SourceURL != "https://example.com/tax" {
		t.Fatalf("filtered pass wrong: %+v", got.Results)
	}

	// A category with no matches must fall back to the unfiltered set.
	got = Context(matches, civic.CategoryFirePermits, 5)
	if len(got.Results) != 2 {
		t.Fatalf("unfiltered fallback expected 2 results, got %d", len(got.Results))
	}
}

func TestContextFallbackWhenFilteredAllTooShort(t *testing.T) {
	matches := []retrieve.Match{
		{Score: 0.9, Content: "short", Category: "parking", SourceURL: "https://example.com/a"},
		{Score: 0.8, Content: longContent("noise rules"), Category: "noise", SourceURL: "https://example.com/b"},
	}

	got := Context(matches, civic.CategoryParking, 5)
	if len(got.Results) != 1 || got.Results[0].SourceURL != "https://example.com/b" {
		t.Fatalf("expected fallback to accept the off-category item, got %+v", got.Results)
	}
}

func TestContextTruncation(t *testing.T) {
	long := strings.Repeat("x", ContextLimit+500)
	matches := []retrieve.Match{
		{Score: 0.9, Content: long, Category: "parking", SourceURL: "https://example.com/a"},
	}

	got := Context(matches, civic.CategoryParking, 1)
	if len(got.Results) != 1 {
		t.Fatal("expected one result")
	}
	if len(got.Results[0].Content) > DisplayLimit {
		t.Fatalf("display content %d bytes, limit %d", len(got.Results[0].Content), DisplayLimit)
	}
	if len(got.Blocks[0]) > ContextLimit {
		t.Fatalf("context block %d bytes, limit %d", len(got.Blocks[0]), ContextLimit)
	}
}

func TestContextRespectsLimitAndPoolCap(t *testing.T) {
	var matches []retrieve.Match
	for i := 0; i < 20; i++ {
		matches = append(matches, retrieve.Match{
			Score:     float64(20 - i),
			Content:   longContent("item"),
			Category:  "parking",
			SourceURL: "https://example.com/" + strings.Repeat("p", i+1),
		})
	}

	got := Context(matches, civic.CategoryParking, 3)
	if len(got.Results) != 3 || len(got.Blocks) != 3 {
		t.Fatalf("expected exactly 3 items, got %d results / %d blocks", len(got.Results), len(got.Blocks))
	}
}

func TestContextEmptyInputs(t *testing.T) {
	if got := Context(nil, civic.CategoryParking, 5); len(got.Results) != 0 || len(got.Blocks) != 0 {
		t.Fatalf("nil matches should assemble nothing, got %+v", got)
	}
	matches := []retrieve.Match{{Score: 1, Content: longContent("x"), Category: "parking"}}
	if got := Context(matches, civic.CategoryParking, 0); len(got.Results) != 0 {
		t.Fatalf("zero limit should assemble nothing, got %+v", got)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	s := "déchets dangereux " + strings.Repeat("é", 100)
	got := Truncate(s, 25)
	if len(got) > 25 {
		t.Fatalf("truncated to %d bytes, want <= 25", len(got))
	}
	for i, r := range got {
		if r == '�' {
			t.Fatalf("replacement rune at byte %d: %q", i, got)
		}
	}
	if Truncate("short", 100) != "short" {
		t.Fatal("strings under the limit must pass through unchanged")
	}
}
