package classify

import (
	"strings"

	"github.com/civickit/k311/internal/civic"
)

// collectionTerms are the schedule-specific phrases that, combined with a
// street-address-shaped pattern, mark a live collection-day lookup.
var collectionTerms = []string{
	"collection", "garbage", "pickup", "pick up", "recycling",
	"green bin", "waste", "when is", "what day",
}

// KeywordClassify is the deterministic fallback strategy: a pure function of
// the question text with no external calls. Rules, in order:
//
//  1. greetings and acknowledgments;
//  2. live_status_lookup, requiring BOTH an address-shaped pattern AND a
//     collection keyword;
//  3. category keyword sets in fixed priority order (parking, property_tax,
//     waste_collection, hazardous_waste, fire_permits, noise);
//  4. default to (policy_explanatory, waste_collection).
func KeywordClassify(question string) Decision {
	q := strings.ToLower(question)

	if civic.IsGreeting(q) {
		return Decision{IntentGreeting, civic.CategoryNone}
	}

	if civic.HasStreetAddress(q) && containsAny(q, collectionTerms) {
		return Decision{IntentLiveStatus, civic.CategoryWasteCollection}
	}

	if cat, ok := civic.MatchCategory(q); ok {
		return Decision{IntentPolicy, cat}
	}

	return Decision{IntentPolicy, civic.CategoryWasteCollection}
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
