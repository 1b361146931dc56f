package enrich

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Store is the slice of the content store the enrichment worker needs.
type Store interface {
	ListUnenriched(ctx context.Context) ([]pipeline.RawArticle, error)
	ListEnabledRules(ctx context.Context) ([]pipeline.TagRule, error)
	InsertEnriched(ctx context.Context, article pipeline.EnrichedArticle) (bool, error)
}

// Worker drains the backlog of raw articles on a fixed interval, producing
// enriched rows. Once an article is eligible it is always committed: failed
// condensation or translation degrades to raw text rather than blocking the
// row forever.
type Worker struct {
	store    Store
	engine   *Engine
	tagger   *Tagger
	logger   *zap.Logger
	interval time.Duration

	// sources whose bodies are trimmed to the first paragraph block
	// before condensation.
	firstBlockOnly map[string]bool
}

// WorkerConfig carries the loop interval and per-source pre-trim flags.
type WorkerConfig struct {
	Interval       time.Duration
	FirstBlockOnly map[string]bool
}

// NewWorker builds an enrichment Worker.
func NewWorker(cfg WorkerConfig, store Store, engine *Engine, tagger *Tagger, logger *zap.Logger) *Worker {
	return &Worker{
		store:          store,
		engine:         engine,
		tagger:         tagger,
		logger:         logger,
		interval:       cfg.Interval,
		firstBlockOnly: cfg.FirstBlockOnly,
	}
}

// Run processes the backlog until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("enrichment pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce enriches every currently unenriched article.
func (w *Worker) RunOnce(ctx context.Context) error {
	raws, err := w.store.ListUnenriched(ctx)
	if err != nil {
		return err
	}
	if len(raws) == 0 {
		return nil
	}

	rules, err := w.store.ListEnabledRules(ctx)
	if err != nil {
		return err
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.enrichOne(ctx, raw, rules)
	}
	return nil
}

func (w *Worker) enrichOne(ctx context.Context, raw pipeline.RawArticle, rules []pipeline.TagRule) {
	if !w.tagger.Eligible(raw.Body, rules) {
		metrics.ObserveEnrichment("ineligible")
		return
	}

	body := raw.Body
	if w.firstBlockOnly[raw.Source] {
		body = FirstParagraphBlock(body)
	}

	condensed := w.engine.Condense(ctx, body)
	translated := w.engine.Translate(ctx, condensed)
	tags := w.tagger.Extract(raw.Body, rules)

	inserted, err := w.store.InsertEnriched(ctx, pipeline.EnrichedArticle{
		Title:         raw.Title,
		URL:           raw.URL,
		PublishedDate: raw.PublishedDate,
		Body:          body,
		Condensed:     condensed,
		Translated:    translated,
		Source:        raw.Source,
		Tags:          tags,
	})
	if err != nil {
		metrics.ObserveEnrichment("error")
		w.logger.Error("enriched insert failed",
			zap.String("url", raw.URL),
			zap.Error(err))
		return
	}
	if !inserted {
		metrics.ObserveEnrichment("duplicate")
		return
	}
	metrics.ObserveEnrichment("ok")
	w.logger.Info("article enriched",
		zap.String("url", raw.URL),
		zap.String("source", raw.Source),
		zap.Strings("tags", tags))
}

// FirstParagraphBlock trims body to its first paragraph block: everything up
// to the first blank line, or the first line when no blank line exists.
func FirstParagraphBlock(body string) string {
	trimmed := strings.TrimSpace(body)
	if idx := strings.Index(trimmed, "\n\n"); idx >= 0 {
		return strings.TrimSpace(trimmed[:idx])
	}
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		return strings.TrimSpace(trimmed[:idx])
	}
	return trimmed
}
