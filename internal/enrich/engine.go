package enrich

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Engine wraps the condense and translate collaborators with word-budget
// chunking and graceful degradation. A chunk whose call fails is carried
// through verbatim so one bad model response never blocks an article.
type Engine struct {
	condenser  pipeline.Condenser
	translator pipeline.Translator
	logger     *zap.Logger

	chunkWords int
	minWords   int
	summaryMin int
	summaryMax int
	sourceLang string
	targetLang string
}

// EngineConfig carries the word budgets and language pair for an Engine.
// MinWords is the verbatim threshold: text shorter than it is never
// condensed. SummaryMin and SummaryMax bound the summary length asked of
// the condenser per chunk.
type EngineConfig struct {
	ChunkWords int
	MinWords   int
	SummaryMin int
	SummaryMax int
	SourceLang string
	TargetLang string
}

// NewEngine builds an Engine over the given collaborators.
func NewEngine(cfg EngineConfig, condenser pipeline.Condenser, translator pipeline.Translator, logger *zap.Logger) *Engine {
	return &Engine{
		condenser:  condenser,
		translator: translator,
		logger:     logger,
		chunkWords: cfg.ChunkWords,
		minWords:   cfg.MinWords,
		summaryMin: cfg.SummaryMin,
		summaryMax: cfg.SummaryMax,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
	}
}

// Condense shortens text to the configured word range. Text already below
// the minimum is returned verbatim. Longer text is condensed chunk by chunk.
func (e *Engine) Condense(ctx context.Context, text string) string {
	words := strings.Fields(text)
	if len(words) < e.minWords {
		return text
	}
	return e.applyChunks(ctx, words, "condense", func(ctx context.Context, chunk string) (string, error) {
		return e.condenser.Condense(ctx, chunk, e.summaryMin, e.summaryMax)
	})
}

// Translate renders text in the target language, chunk by chunk.
func (e *Engine) Translate(ctx context.Context, text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	return e.applyChunks(ctx, words, "translate", func(ctx context.Context, chunk string) (string, error) {
		return e.translator.Translate(ctx, chunk, e.sourceLang, e.targetLang)
	})
}

// applyChunks splits words into chunkWords-sized pieces, applies fn to each
// and joins the results. A failed chunk falls back to its own raw text.
func (e *Engine) applyChunks(ctx context.Context, words []string, stage string, fn func(context.Context, string) (string, error)) string {
	var parts []string
	for start := 0; start < len(words); start += e.chunkWords {
		end := start + e.chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[start:end], " ")

		out, err := fn(ctx, chunk)
		if err != nil || strings.TrimSpace(out) == "" {
			metrics.ObserveDegradation(stage)
			e.logger.Warn("enrichment chunk degraded to raw text",
				zap.String("stage", stage),
				zap.Int("chunk_words", end-start),
				zap.Error(err))
			out = chunk
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, " ")
}
