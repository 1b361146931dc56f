package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
	"github.com/orbitfeed/orbitfeed/internal/scrape"
)

// LiveFeedStore is the slice of the content store the walker needs.
type LiveFeedStore interface {
	InsertLiveFeedItem(ctx context.Context, item pipeline.LiveFeedItem) (bool, error)
}

// TranslateFunc renders text in the delivery language. Failures inside the
// implementation degrade to the source text, so the walker never blocks on it.
type TranslateFunc func(ctx context.Context, text string) string

// LiveFeedConfig carries the walker cadence and date window.
type LiveFeedConfig struct {
	URL        string
	Interval   time.Duration
	WindowDays int
}

// LiveFeedWalker polls the single always-current live page, keeps entries
// whose timestamp falls inside the date window, translates them and inserts
// them keyed by title.
type LiveFeedWalker struct {
	cfg       LiveFeedConfig
	fetcher   pipeline.Fetcher
	store     LiveFeedStore
	translate TranslateFunc
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewLiveFeedWalker builds a walker for the configured live page.
func NewLiveFeedWalker(cfg LiveFeedConfig, fetcher pipeline.Fetcher, store LiveFeedStore, translate TranslateFunc, clock pipeline.Clock, logger *zap.Logger) *LiveFeedWalker {
	return &LiveFeedWalker{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		translate: translate,
		clock:     clock,
		logger:    logger,
	}
}

// Run walks the live page on the configured cadence until ctx is cancelled.
// The first walk runs immediately.
func (w *LiveFeedWalker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	if err := w.Walk(ctx); err != nil {
		w.logger.Error("live page walk failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Walk(ctx); err != nil {
				w.logger.Error("live page walk failed", zap.Error(err))
			}
		}
	}
}

// Walk performs one full pass over the live page.
func (w *LiveFeedWalker) Walk(ctx context.Context) error {
	resp, err := w.fetcher.Fetch(ctx, pipeline.FetchRequest{URL: w.cfg.URL})
	if err != nil {
		return err
	}
	doc, err := scrape.NewDocument(resp.Body)
	if err != nil {
		return err
	}

	// The cutoff is recomputed from the clock on every walk; there is no
	// persisted high-water mark.
	cutoff := w.clock.Now().AddDate(0, 0, -w.cfg.WindowDays)

	for _, entry := range scrape.ExtractLiveEntries(doc) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.EventDate.After(cutoff) {
			continue
		}

		inserted, err := w.store.InsertLiveFeedItem(ctx, pipeline.LiveFeedItem{
			Title:      entry.Title,
			Facts:      entry.Facts,
			Body:       entry.Body,
			EventDate:  entry.EventDate,
			Translated: w.translate(ctx, entry.Body),
		})
		if err != nil {
			w.logger.Error("live feed insert failed", zap.String("title", entry.Title), zap.Error(err))
			continue
		}
		if inserted {
			w.logger.Info("live feed item stored",
				zap.String("title", entry.Title),
				zap.Time("event_date", entry.EventDate))
		}
	}
	return nil
}
