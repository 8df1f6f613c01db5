// Package assemble turns raw retrieval output into answer-ready context:
// ranked and deduplicated display records for the UI, and cleaned text blocks
// for the generator. Both the knowledge-base route and the live official-page
// route go through it.
package assemble

import (
	"sort"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/retrieve"
)

// Truncation and acceptance bounds. Display records stay short for the UI;
// context blocks carry more text into the prompt.
const (
	DisplayLimit  = 500
	ContextLimit  = 1500
	MinContentLen = 80

	// The candidate pool is capped at a multiple of the requested limit so a
	// large overfetch cannot make assembly unbounded.
	poolFactor = 2
)

// Item is a display record for one accepted piece of context.
type Item struct {
	Score     float64 `json:"score"`
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	Topic     string  `json:"topic"`
	SourceURL string  `json:"source_url"`
}

// Assembled pairs the UI result list with the generation context blocks.
// Results[i] and Blocks[i] describe the same accepted item.
type Assembled struct {
	Results []Item
	Blocks  []string
}

// Context assembles up to limit context items from matches. Matches whose
// normalized category equals expected are tried first; if that filtered pass
// accepts nothing, the whole procedure reruns over the unfiltered set, so
// category filtering can never starve the answer of all context. Within the
// output, non-empty source URLs are unique and items are ordered by
// descending score.
func Context(matches []retrieve.Match, expected civic.Category, limit int) Assembled {
	if limit <= 0 || len(matches) == 0 {
		return Assembled{}
	}

	sorted := append([]retrieve.Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	want := civic.NormalizeCategory(string(expected))
	var filtered []retrieve.Match
	for _, m := range sorted {
		if civic.NormalizeCategory(m.Category) == want {
			filtered = append(filtered, m)
		}
	}

	out := walk(filtered, limit)
	if len(out.Blocks) == 0 {
		// Mandatory fallback: retry over the full unfiltered set.
		out = walk(sorted, limit)
	}
	return out
}

// walk accepts candidates in score order, skipping duplicate sources and
// content that cleans down to below the minimum length.
func walk(candidates []retrieve.Match, limit int) Assembled {
	pool := candidates
	if max := limit * poolFactor; len(pool) > max {
		pool = pool[:max]
	}

	var out Assembled
	seen := make(map[string]struct{})

	for _, m := range pool {
		if m.SourceURL != "" {
			if _, dup := seen[m.SourceURL]; dup {
				continue
			}
		}

		cleaned := civic.CleanContent(m.Content)
		if len(cleaned) < MinContentLen {
			continue
		}

		if m.SourceURL != "" {
			seen[m.SourceURL] = struct{}{}
		}
		out.Results = append(out.Results, Item{
			Score:     m.Score,
			Content:   Truncate(cleaned, DisplayLimit),
			Category:  m.Category,
			Topic:     m.Topic,
			SourceURL: m.SourceURL,
		})
		out.Blocks = append(out.Blocks, Truncate(cleaned, ContextLimit))

		if len(out.Blocks) == limit {
			break
		}
	}
	return out
}

// Truncate bounds s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for !isUTF8Boundary(s, len(cut)) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// isUTF8Boundary reports whether i is the start of a rune in s (or its end).
func isUTF8Boundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
