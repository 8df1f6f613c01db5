package dynamic

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/civickit/k311/internal/log"
)

// Entry is one sitemap record. A zero LastMod means the sitemap carried no
// lastmod for the URL; such entries sort after dated ones.
type Entry struct {
	URL     string
	LastMod time.Time
}

// Fetcher retrieves the current sitemap index.
type Fetcher interface {
	Fetch() ([]Entry, error)
}

// SitemapFetcher loads url/loc + url/lastmod pairs from the City sitemap
// using colly.
type SitemapFetcher struct {
	sitemapURL string
	timeout    time.Duration
	userAgent  string
}

// NewSitemapFetcher creates a fetcher for the given sitemap URL. timeout
// bounds the whole request.
func NewSitemapFetcher(sitemapURL string, timeout time.Duration) *SitemapFetcher {
	return &SitemapFetcher{
		sitemapURL: sitemapURL,
		timeout:    timeout,
		userAgent:  "k311/1.0 (+https://github.com/civickit/k311)",
	}
}

// lastmod values appear both as bare dates and full timestamps.
var lastModLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02"}

// Fetch downloads and parses the sitemap.
func (f *SitemapFetcher) Fetch() ([]Entry, error) {
	var entries []Entry

	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(f.timeout)

	c.OnXML("//url", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.ChildText("loc"))
		if loc == "" {
			return
		}
		entry := Entry{URL: loc}
		if lm := strings.TrimSpace(e.ChildText("lastmod")); lm != "" {
			for _, layout := range lastModLayouts {
				if t, err := time.Parse(layout, lm); err == nil {
					entry.LastMod = t
					break
				}
			}
		}
		entries = append(entries, entry)
	})

	var fetchErr error
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := c.Visit(f.sitemapURL); err != nil {
		return nil, fmt.Errorf("fetching sitemap %s: %w", f.sitemapURL, err)
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetching sitemap %s: %w", f.sitemapURL, fetchErr)
	}
	return entries, nil
}

// snapshot is an immutable cache generation.
type snapshot struct {
	fetchedAt time.Time
	entries   []Entry
}

// Cache holds the process-wide sitemap index with a freshness window.
// Reads are lock-free; concurrent refreshes may race and the last writer
// wins, which is acceptable because generations are read-only and
// interchangeable. On refresh failure the last good generation is served.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	logger  log.Logger

	// now is swappable for tests.
	now func() time.Time

	snap atomic.Pointer[snapshot]
}

// NewCache creates a sitemap cache refreshing at most once per ttl.
func NewCache(fetcher Fetcher, ttl time.Duration, logger log.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Entries returns the current sitemap entries, refreshing first when the
// cached generation is stale. Never fails: a failed refresh serves the stale
// generation, or nothing when no generation exists yet.
func (c *Cache) Entries() []Entry {
	s := c.snap.Load()
	if s != nil && c.now().Sub(s.fetchedAt) < c.ttl {
		return s.entries
	}

	entries, err := c.fetcher.Fetch()
	if err != nil {
		if s != nil {
			c.logger.Warn("sitemap refresh failed, serving stale entries",
				"error", err, "age", c.now().Sub(s.fetchedAt))
			return s.entries
		}
		c.logger.Warn("sitemap fetch failed with empty cache", "error", err)
		return nil
	}

	c.snap.Store(&snapshot{fetchedAt: c.now(), entries: entries})
	c.logger.Debug("sitemap cache refreshed", "entries", len(entries))
	return entries
}
