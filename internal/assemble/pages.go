package assemble

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/civickit/k311/internal/civic"
	"github.com/civickit/k311/internal/dynamic"
	"github.com/civickit/k311/internal/log"
)

// Bounds for the live official-page route.
const (
	PageTextLimit  = 2000
	MinPageTextLen = 120

	maxPageBytes = 2 << 20 // 2MB of HTML is plenty for a municipal page
)

// FetchFunc retrieves one page and returns its title and extracted text.
type FetchFunc func(ctx context.Context, pageURL string) (title, text string, err error)

// PageFetcher builds a FetchFunc over client: readability extraction first,
// with a plain goquery text fallback for pages readability cannot parse.
// timeout bounds each individual URL; a slow page never delays the others
// beyond its own budget.
func PageFetcher(client *http.Client, timeout time.Duration) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, pageURL string) (string, string, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, pageURL, nil)
		if err != nil {
			return "", "", fmt.Errorf("building request for %s: %w", pageURL, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", "", fmt.Errorf("fetching %s: %w", pageURL, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return "", "", fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return "", "", fmt.Errorf("reading %s: %w", pageURL, err)
		}

		parsed, _ := url.Parse(pageURL)
		if article, err := readability.FromReader(bytes.NewReader(body), parsed); err == nil {
			if text := strings.TrimSpace(article.TextContent); text != "" {
				return strings.TrimSpace(article.Title), text, nil
			}
		}

		// Readability gave nothing usable; fall back to stripped page text.
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return "", "", fmt.Errorf("parsing %s: %w", pageURL, err)
		}
		doc.Find("script, style, nav, header, footer, noscript").Remove()
		title := strings.TrimSpace(doc.Find("title").First().Text())
		return title, strings.TrimSpace(doc.Find("body").Text()), nil
	}
}

// Page is one accepted official source with its extracted text. Index is the
// citation number, assigned sequentially from 1 across accepted pages only.
type Page struct {
	Index  int
	Source dynamic.Source
	Text   string
}

// Pages fetches each resolved source in order and builds citation-ready
// blocks of the form "[index] title\nURL: url\n\n<text>". Individual fetch
// failures and too-thin pages are skipped, never fatal to the batch.
func Pages(ctx context.Context, fetch FetchFunc, sources []dynamic.Source, logger log.Logger) ([]Page, []string) {
	var (
		pages  []Page
		blocks []string
	)

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}

		_, text, err := fetch(ctx, src.URL)
		if err != nil {
			logger.Debug("skipping official page", "url", src.URL, "error", err)
			continue
		}

		cleaned := civic.CleanContent(text)
		if len(cleaned) < MinPageTextLen {
			logger.Debug("skipping thin official page", "url", src.URL, "len", len(cleaned))
			continue
		}

		idx := len(pages) + 1
		pages = append(pages, Page{Index: idx, Source: src, Text: Truncate(cleaned, PageTextLimit)})
		blocks = append(blocks, fmt.Sprintf("[%d] %s\nURL: %s\n\n%s",
			idx, src.Title, src.URL, Truncate(cleaned, PageTextLimit)))
	}

	return pages, blocks
}
