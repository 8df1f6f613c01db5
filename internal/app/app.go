// Package app assembles the service from its parts: database pool, Genkit,
// model client, retrieval, dynamic sources, and the pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civickit/k311/internal/answer"
	"github.com/civickit/k311/internal/assemble"
	"github.com/civickit/k311/internal/classify"
	"github.com/civickit/k311/internal/config"
	"github.com/civickit/k311/internal/dynamic"
	"github.com/civickit/k311/internal/lang"
	"github.com/civickit/k311/internal/llm"
	"github.com/civickit/k311/internal/log"
	"github.com/civickit/k311/internal/pipeline"
	"github.com/civickit/k311/internal/retrieve"
)

// App holds the wired service and its owned resources.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Pipeline *pipeline.Pipeline

	// Querier doubles as the health probe over the knowledge base.
	Querier *retrieve.PgQuerier
}

// Setup initializes every component. On failure, resources acquired so far
// are released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: creating database pool: %w", err)
	}
	a.Pool = pool

	g, err := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if err != nil {
		return nil, fmt.Errorf("app: initializing genkit: %w", err)
	}
	if g == nil {
		return nil, errors.New("app: genkit initialization returned nil")
	}
	a.Genkit = g

	client, err := llm.New(llm.Config{Genkit: g, Model: cfg.Model, Logger: logger})
	if err != nil {
		return nil, err
	}

	aiEmbedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if aiEmbedder == nil {
		return nil, fmt.Errorf("app: embedder %q not found", cfg.EmbedderModel)
	}

	a.Querier = retrieve.NewPgQuerier(pool)
	searcher := retrieve.NewSearcher(retrieve.NewGenkitEmbedder(aiEmbedder), a.Querier, logger)

	sitemap := dynamic.NewCache(
		dynamic.NewSitemapFetcher(cfg.SitemapURL, cfg.FetchTimeout),
		cfg.SitemapTTL,
		logger,
	)
	resolver := dynamic.NewResolver(sitemap, logger)

	writer, err := answer.New(answer.Config{
		Gen:          client,
		Logger:       logger,
		ContactPhone: cfg.ContactPhone,
		CalendarURL:  cfg.CalendarURL,
	})
	if err != nil {
		return nil, err
	}

	a.Pipeline, err = pipeline.New(pipeline.Config{
		Classifier: classify.New(client, logger),
		Searcher:   searcher,
		Sources:    resolver,
		Fetch:      assemble.PageFetcher(http.DefaultClient, cfg.FetchTimeout),
		Writer:     writer,
		Validator:  answer.NewValidator(client, logger),
		Lang:       lang.New(client, logger),
		Logger:     logger,
		TopK:       cfg.TopK,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases owned resources. Safe to call on a partially built App.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
