// Package retrieve performs semantic search against the pre-indexed policy
// knowledge base: it embeds the question and asks the vector store for the
// closest chunks. The store itself is a black box behind the Querier
// interface; this package only shapes its loosely-typed rows into Match
// records at the ingestion boundary.
package retrieve

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/civickit/k311/internal/log"
)

// Match is one ranked search result. Category arrives free-form and must be
// normalized before comparison; several matches may share a SourceURL.
type Match struct {
	Score     float64
	Content   string
	Category  string
	Topic     string
	SourceURL string
}

// overfetchFactor: the assembler filters by category and deduplicates by
// source, so the store is asked for more rows than the caller wants.
const overfetchFactor = 3

// Embedder maps text to a vector. Satisfied by GenkitEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Querier is the vector-store surface this package consumes.
type Querier interface {
	SearchMatches(ctx context.Context, embedding pgvector.Vector, limit int32) ([]Match, error)
}

// Searcher embeds a query and runs it against the vector store.
type Searcher struct {
	embedder Embedder
	querier  Querier
	logger   log.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder Embedder, querier Querier, logger log.Logger) *Searcher {
	return &Searcher{embedder: embedder, querier: querier, logger: logger}
}

// Search returns up to topK*3 matches for query, ranked by similarity.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]Match, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	limit := topK * overfetchFactor
	matches, err := s.querier.SearchMatches(ctx, pgvector.NewVector(vec), int32(limit)) // #nosec G115 -- topK is validated small
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	s.logger.Debug("vector search completed", "query_len", len(query), "matches", len(matches))
	return matches, nil
}

// GenkitEmbedder adapts a Genkit ai.Embedder to the Embedder interface.
type GenkitEmbedder struct {
	embedder ai.Embedder
}

// NewGenkitEmbedder wraps a Genkit embedder.
func NewGenkitEmbedder(embedder ai.Embedder) *GenkitEmbedder {
	return &GenkitEmbedder{embedder: embedder}
}

// Embed generates the embedding for text.
func (g *GenkitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// PgQuerier is the pgvector-backed Querier over the kingston_policies index.
type PgQuerier struct {
	pool *pgxpool.Pool
}

// NewPgQuerier creates a PgQuerier on the given pool.
func NewPgQuerier(pool *pgxpool.Pool) *PgQuerier {
	return &PgQuerier{pool: pool}
}

const searchSQL = `
SELECT content,
       COALESCE(metadata->>'category', '')   AS category,
       COALESCE(metadata->>'topic', '')      AS topic,
       COALESCE(metadata->>'source_url', '') AS source_url,
       1 - (embedding <=> $1)                AS score
FROM kingston_policies
ORDER BY embedding <=> $1
LIMIT $2`

// SearchMatches runs a cosine-distance top-k query.
func (q *PgQuerier) SearchMatches(ctx context.Context, embedding pgvector.Vector, limit int32) ([]Match, error) {
	rows, err := q.pool.Query(ctx, searchSQL, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("querying kingston_policies: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Content, &m.Category, &m.Topic, &m.SourceURL, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}
	return matches, nil
}

// Count returns the number of indexed chunks. Used by the health endpoint.
func (q *PgQuerier) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := q.pool.QueryRow(ctx, "SELECT count(*) FROM kingston_policies").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting kingston_policies: %w", err)
	}
	return n, nil
}
