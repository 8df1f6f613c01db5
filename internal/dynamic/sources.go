package dynamic

import (
	"net/url"
	"sort"
	"strings"

	"github.com/civickit/k311/internal/log"
)

// Source is an official page the dynamic route may cite.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// allowedHosts is the fixed domain allow-list for dynamically fetched
// official content. URLs outside it are dropped silently.
var allowedHosts = map[string]struct{}{
	"www.cityofkingston.ca":  {},
	"cityofkingston.ca":      {},
	"www.kingstontransit.ca": {},
	"kingstontransit.ca":     {},
}

// HostAllowed reports whether raw parses to an http(s) URL on an allow-listed
// host.
func HostAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	_, ok := allowedHosts[u.Hostname()]
	return ok
}

// curatedSources are the editorial seed URLs per bucket. They rank ahead of
// anything sitemap-derived.
var curatedSources = map[Bucket][]Source{
	BucketRoadClosures: {
		{Title: "Road Closures and Restrictions", URL: "https://www.cityofkingston.ca/roads-sidewalks-transportation/road-closures-restrictions/"},
		{Title: "Construction Projects", URL: "https://www.cityofkingston.ca/projects-construction/"},
	},
	BucketSnowRemoval: {
		{Title: "Snow Clearing", URL: "https://www.cityofkingston.ca/roads-sidewalks-transportation/snow-clearing/"},
		{Title: "Winter Parking", URL: "https://www.cityofkingston.ca/parking-transportation/winter-parking/"},
	},
	BucketTransitLostFound: {
		{Title: "Kingston Transit Lost and Found", URL: "https://www.kingstontransit.ca/contact-us/lost-and-found/"},
	},
	BucketTransit: {
		{Title: "Kingston Transit", URL: "https://www.kingstontransit.ca/"},
		{Title: "Routes and Schedules", URL: "https://www.kingstontransit.ca/routes-schedules/"},
	},
	BucketWeather: {
		{Title: "Emergency Notifications", URL: "https://www.cityofkingston.ca/emergency-services/emergency-notifications/"},
	},
}

// pathPattern selects sitemap URLs by substring, each capped at its own
// small limit so one noisy pattern cannot crowd out the others.
type pathPattern struct {
	substr string
	limit  int
}

var bucketPatterns = map[Bucket][]pathPattern{
	BucketRoadClosures: {
		{substr: "road-closure", limit: 3},
		{substr: "construction", limit: 3},
		{substr: "roads", limit: 2},
	},
	BucketSnowRemoval: {
		{substr: "snow", limit: 3},
		{substr: "winter", limit: 2},
	},
	BucketTransitLostFound: {
		{substr: "lost-and-found", limit: 2},
		{substr: "transit", limit: 2},
	},
	BucketTransit: {
		{substr: "transit", limit: 4},
		{substr: "bus", limit: 2},
	},
	BucketWeather: {
		{substr: "emergency", limit: 2},
		{substr: "weather", limit: 2},
	},
}

// Resolver produces the bounded, deduplicated, allow-listed source list for a
// dynamic bucket by merging curated seeds with freshness-ranked sitemap URLs.
type Resolver struct {
	cache  *Cache
	logger log.Logger
}

// NewResolver creates a Resolver backed by the given sitemap cache.
func NewResolver(cache *Cache, logger log.Logger) *Resolver {
	return &Resolver{cache: cache, logger: logger}
}

// Resolve returns up to maxResults official sources for bucket. Curated seeds
// come first; sitemap entries follow, newest first per pattern. Every URL,
// curated or derived, must pass the domain allow-list, and duplicates keep
// their first-seen position.
func (r *Resolver) Resolve(bucket Bucket, maxResults int) []Source {
	if bucket == BucketNone || maxResults <= 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []Source
	add := func(s Source) bool {
		if !HostAllowed(s.URL) {
			return false
		}
		if _, dup := seen[s.URL]; dup {
			return false
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
		return true
	}

	for _, s := range curatedSources[bucket] {
		add(s)
	}

	entries := append([]Entry(nil), r.cache.Entries()...)
	// Newest first; entries without a lastmod sort last.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[j].LastMod.IsZero() {
			return !entries[i].LastMod.IsZero()
		}
		if entries[i].LastMod.IsZero() {
			return false
		}
		return entries[i].LastMod.After(entries[j].LastMod)
	})

	for _, p := range bucketPatterns[bucket] {
		n := 0
		for _, e := range entries {
			if n >= p.limit {
				break
			}
			if !strings.Contains(strings.ToLower(e.URL), p.substr) {
				continue
			}
			if add(Source{Title: titleFromURL(e.URL), URL: e.URL}) {
				n++
			}
		}
	}

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	r.logger.Debug("resolved official sources", "bucket", bucket, "count", len(out))
	return out
}

// titleFromURL derives a display title from the last path segment,
// e.g. ".../snow-clearing/" -> "Snow Clearing".
func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	seg := strings.Trim(u.Path, "/")
	if i := strings.LastIndexByte(seg, '/'); i >= 0 {
		seg = seg[i+1:]
	}
	if seg == "" {
		return u.Hostname()
	}
	words := strings.FieldsFunc(seg, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
