// Package dynamic decides whether a question concerns fast-changing
// operational information (road closures, snow clearing, transit, weather)
// and resolves the official City pages to read for it.
package dynamic

import "strings"

// Bucket is a topical subdivision of the dynamic route.
type Bucket string

const (
	BucketNone             Bucket = ""
	BucketRoadClosures     Bucket = "road_closures"
	BucketSnowRemoval      Bucket = "snow_removal"
	BucketTransitLostFound Bucket = "transit_lost_found"
	BucketTransit          Bucket = "transit"
	BucketWeather          Bucket = "weather"
)

var (
	// Misspellings of "construction" show up constantly in 311 queries.
	roadClosureTerms = []string{
		"road closure", "road closed", "roads closed", "road closures",
		"detour", "lane restriction",
		"construction", "constuction", "construcion", "constrution",
	}
	urgencyTerms = []string{"today", "tomorrow", "right now", "currently", "this week"}

	snowTerms = []string{
		"snow", "plow", "plough", "winter maintenance", "salting", "sanding",
	}

	lostTerms    = []string{"lost my", "i lost", "lost a", "left my"}
	transitTerms = []string{"bus", "transit"}

	weatherTerms = []string{"weather", "forecast"}
)

// ClassifyBucket maps a question to a dynamic bucket, or BucketNone when the
// question is not about fast-changing information. Pure and deterministic;
// the first matching rule in the fixed precedence order wins:
// road closures, snow, transit lost-and-found, transit, weather.
func ClassifyBucket(question string) Bucket {
	q := strings.ToLower(question)

	if containsAny(q, roadClosureTerms) ||
		(containsAny(q, urgencyTerms) && strings.Contains(q, "road")) {
		return BucketRoadClosures
	}

	if containsAny(q, snowTerms) {
		return BucketSnowRemoval
	}

	// Lost-and-found needs both a "lost X" phrase and a transit term.
	if containsAny(q, lostTerms) && containsAny(q, transitTerms) {
		return BucketTransitLostFound
	}

	if containsAny(q, transitTerms) {
		return BucketTransit
	}

	if containsAny(q, weatherTerms) {
		return BucketWeather
	}

	return BucketNone
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
