// Package llm wraps Genkit generation behind the narrow Generate and
// GenerateStream operations the rest of the service consumes, with a shared
// rate limit so classification, answering, and translation cannot stampede
// the model API together.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/civickit/k311/internal/log"
)

var ErrEmptyResponse = errors.New("llm: model returned an empty response")

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 800

	// Burst-tolerant ceiling for a single-instance deployment.
	defaultRatePerSecond = 10
	defaultRateBurst     = 30
)

// Config carries the initialized Genkit instance and the model to call.
type Config struct {
	Genkit *genkit.Genkit
	Model  string
	Logger log.Logger

	// Limiter is optional; a default limiter is installed when nil.
	Limiter *rate.Limiter
}

func (c Config) validate() error {
	if c.Genkit == nil {
		return errors.New("llm: genkit instance is required")
	}
	if c.Model == "" {
		return errors.New("llm: model name is required")
	}
	if c.Logger == nil {
		return errors.New("llm: logger is required")
	}
	return nil
}

// Client generates text with one fixed model. All calls go through the
// limiter before reaching the model API.
type Client struct {
	g       *genkit.Genkit
	model   string
	limiter *rate.Limiter
	logger  log.Logger
}

func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(defaultRatePerSecond, defaultRateBurst)
	}
	return &Client{
		g:       cfg.Genkit,
		model:   cfg.Model,
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// Generate runs one buffered completion.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: waiting for rate limit: %w", err)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     defaultTemperature,
			MaxOutputTokens: defaultMaxTokens,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// GenerateStream runs one completion, invoking cb for each text chunk as it
// arrives, and returns the full accumulated text. A cb error aborts the
// stream and is returned to the caller.
func (c *Client) GenerateStream(ctx context.Context, system, prompt string, cb func(ctx context.Context, chunk string) error) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: waiting for rate limit: %w", err)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     defaultTemperature,
			MaxOutputTokens: defaultMaxTokens,
		}),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			return cb(ctx, text)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("llm: generate stream: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
