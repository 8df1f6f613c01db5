// Package civic holds the city-service taxonomy shared by the classifier,
// the context assembler, and the relevance validator, together with the text
// normalization helpers applied to scraped municipal content.
package civic

import "strings"

// Category is one of the closed set of city-service topics the knowledge base
// is indexed under. Free-form category labels from search metadata must be
// passed through NormalizeCategory before comparison.
type Category string

const (
	CategoryParking         Category = "parking"
	CategoryPropertyTax     Category = "property_tax"
	CategoryWasteCollection Category = "waste_collection"
	CategoryHazardousWaste  Category = "hazardous_waste"
	CategoryFirePermits     Category = "fire_permits"
	CategoryNoise           Category = "noise"

	// CategoryNone is the out-of-scope sentinel.
	CategoryNone Category = "none"
)

// Categories lists every real category, in classification priority order.
var Categories = []Category{
	CategoryParking,
	CategoryPropertyTax,
	CategoryWasteCollection,
	CategoryHazardousWaste,
	CategoryFirePermits,
	CategoryNoise,
}

// Valid reports whether c is a member of the closed enumeration
// (CategoryNone included).
func (c Category) Valid() bool {
	if c == CategoryNone {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Display returns the human-readable form used inside prompts,
// e.g. "property tax" for property_tax.
func (c Category) Display() string {
	return strings.ReplaceAll(string(c), "_", " ")
}

// ParseCategory maps a free-form label to a Category, normalizing case,
// spacing and punctuation first. Unknown labels map to CategoryNone.
func ParseCategory(raw string) Category {
	c := Category(NormalizeCategory(raw))
	if c == "" || !c.Valid() {
		return CategoryNone
	}
	return c
}

// categoryKeywords drives the deterministic keyword classifier. Order matters:
// the first category whose term list matches wins.
var categoryKeywords = []struct {
	category Category
	terms    []string
}{
	{CategoryParking, []string{
		"parking permit", "parking", "permit", "monthly parking", "residential parking",
	}},
	{CategoryPropertyTax, []string{
		"property tax", "tax payment", "tax due", "tax bill", "pay taxes",
	}},
	{CategoryWasteCollection, []string{
		"blue box", "grey box", "green bin", "what goes", "recycling",
		"garbage", "waste", "cart", "collection rules",
	}},
	{CategoryHazardousWaste, []string{
		"hazardous waste", "karc", "dispose", "batteries", "drop off",
	}},
	{CategoryFirePermits, []string{
		"fire permit", "open air fire", "burn", "fire pit",
	}},
	{CategoryNoise, []string{
		"noise", "quiet hours", "bylaw", "nuisance", "complaint",
	}},
}

// MatchCategory returns the first category whose keyword set matches the
// question text, checked in priority order. The boolean is false when no
// category keyword appears.
func MatchCategory(text string) (Category, bool) {
	lower := strings.ToLower(text)
	for _, rule := range categoryKeywords {
		for _, term := range rule.terms {
			if strings.Contains(lower, term) {
				return rule.category, true
			}
		}
	}
	return CategoryNone, false
}

// leakTerms lists, per category, phrases that indicate an answer has wandered
// into an unrelated topic. waste_collection has no entry: the original service
// tolerates overlap there because most general questions land in it.
var leakTerms = map[Category][]string{
	CategoryParking:        {"garbage", "waste", "collection calendar", "recycling"},
	CategoryPropertyTax:    {"garbage", "waste", "parking", "collection"},
	CategoryHazardousWaste: {"parking", "tax", "collection calendar"},
	CategoryFirePermits:    {"garbage", "parking", "tax"},
	CategoryNoise:          {"garbage", "parking", "tax", "collection"},
}

// LeakTerms returns the unrelated-topic phrases for c, or nil when answers in
// c are not leak-checked.
func LeakTerms(c Category) []string {
	return leakTerms[c]
}
