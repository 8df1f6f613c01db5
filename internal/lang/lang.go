// Package lang detects the question language and translates answers so the
// pipeline can work in English internally while serving English and French
// callers.
package lang

import (
	"context"
	"strings"

	"github.com/civickit/k311/internal/log"
)

// Lang is a supported response language.
type Lang string

const (
	English Lang = "en"
	French  Lang = "fr"
	Auto    Lang = "auto"
)

// frenchStopwords drive the fast detection path. Two distinct hits mark a
// question as French without a model call.
var frenchStopwords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "un": {}, "une": {}, "des": {},
	"est": {}, "sont": {}, "je": {}, "tu": {}, "vous": {}, "nous": {},
	"mon": {}, "ma": {}, "mes": {}, "votre": {}, "vos": {},
	"que": {}, "qui": {}, "quand": {}, "pourquoi": {}, "comment": {},
	"avec": {}, "dans": {}, "pour": {}, "sur": {}, "pas": {},
	"déchets": {}, "collecte": {}, "stationnement": {}, "taxes": {},
}

// Generator is the slice of the model client this package consumes.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Adapter detects and translates between the supported languages.
type Adapter struct {
	gen    Generator
	logger log.Logger
}

// New builds an Adapter. gen may be nil; detection then relies on the fast
// path alone and translation becomes a no-op.
func New(gen Generator, logger log.Logger) *Adapter {
	return &Adapter{gen: gen, logger: logger}
}

// Detect returns the language of text. The stopword fast path decides French
// on two or more distinct hits; otherwise one constrained model call breaks
// the tie, defaulting to English on any failure.
func (a *Adapter) Detect(ctx context.Context, text string) Lang {
	distinct := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if _, ok := frenchStopwords[w]; ok {
			distinct[w] = struct{}{}
		}
	}
	if len(distinct) >= 2 {
		return French
	}
	if a.gen == nil {
		return English
	}

	raw, err := a.gen.Generate(ctx,
		"You are a language detector. Reply with exactly one token: en or fr.",
		"Text:\n"+text+"\n\nLanguage (en or fr):")
	if err != nil {
		a.logger.Debug("language detection failed, defaulting to English", "error", err)
		return English
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fr":
		return French
	case "en":
		return English
	default:
		a.logger.Debug("unparseable language verdict, defaulting to English", "verdict", raw)
		return English
	}
}

// Translate renders text into target. Same-language requests and any
// translation failure return the original text unchanged.
func (a *Adapter) Translate(ctx context.Context, text string, from, to Lang) string {
	if from == to || text == "" || a.gen == nil {
		return text
	}

	var instruction string
	switch to {
	case French:
		instruction = "Translate the following text to French. Keep URLs, phone numbers, and bracketed citation markers exactly as they are. Reply with the translation only."
	default:
		instruction = "Translate the following text to English. Keep URLs, phone numbers, and bracketed citation markers exactly as they are. Reply with the translation only."
	}

	out, err := a.gen.Generate(ctx, "You are a precise translator for a municipal service.", instruction+"\n\n"+text)
	if err != nil {
		a.logger.Warn("translation failed, keeping original text", "error", err, "target", to)
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}
