// Package scheduler drives the polling tiers that keep the content store
// topped up: a fast tier over the front pages of every source, a backfill
// tier over the deep archive pages, and a walker for the live page.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
	"github.com/orbitfeed/orbitfeed/internal/scrape"
)

// Tier labels reported with crawl pass metrics.
const (
	TierFast     = "fast"
	TierBackfill = "backfill"
)

// Store is the slice of the content store the crawl tiers need.
type Store interface {
	RawExists(ctx context.Context, url string) (bool, error)
	InsertRaw(ctx context.Context, article pipeline.RawArticle) (bool, error)
}

// Pacer sleeps a courtesy delay keyed by site.
type Pacer interface {
	Pace(ctx context.Context, site string)
}

// Config carries tier cadence and pacing for a Scheduler.
type Config struct {
	FastPages        int
	FastInterval     time.Duration
	BackfillInterval time.Duration
}

// Scheduler runs the fast and backfill crawl tiers over the configured
// sources. Both tiers share the same pass logic and differ only in page
// range and cadence.
type Scheduler struct {
	cfg     Config
	fetcher pipeline.Fetcher
	store   Store
	sources []scrape.Source
	logger  *zap.Logger

	insertPacer   Pacer
	backfillPacer Pacer
}

// New builds a Scheduler over the given sources.
func New(cfg Config, fetcher pipeline.Fetcher, store Store, sources []scrape.Source, insertPacer, backfillPacer Pacer, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		fetcher:       fetcher,
		store:         store,
		sources:       sources,
		logger:        logger,
		insertPacer:   insertPacer,
		backfillPacer: backfillPacer,
	}
}

// RunFast polls the first FastPages pages of every source on the fast
// cadence until ctx is cancelled. The first pass runs immediately.
func (s *Scheduler) RunFast(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FastInterval)
	defer ticker.Stop()

	s.FastPass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FastPass(ctx)
		}
	}
}

// RunBackfill sweeps the deep pages of every source, then sleeps the
// backfill interval before the next sweep.
func (s *Scheduler) RunBackfill(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.BackfillPass(ctx)
			timer.Reset(s.cfg.BackfillInterval)
		}
	}
}

// FastPass crawls pages 1..FastPages of every source once.
func (s *Scheduler) FastPass(ctx context.Context) {
	start := time.Now()
	for _, src := range s.sources {
		last := s.cfg.FastPages
		if src.Pages < last {
			last = src.Pages
		}
		s.crawlRange(ctx, TierFast, src, 1, last, nil)
	}
	metrics.ObserveCrawlPass(TierFast, time.Since(start))
}

// BackfillPass crawls pages FastPages+1..Pages of every source once, pacing
// between listing pages.
func (s *Scheduler) BackfillPass(ctx context.Context) {
	start := time.Now()
	for _, src := range s.sources {
		s.crawlRange(ctx, TierBackfill, src, s.cfg.FastPages+1, src.Pages, s.backfillPacer)
	}
	metrics.ObserveCrawlPass(TierBackfill, time.Since(start))
}

func (s *Scheduler) crawlRange(ctx context.Context, tier string, src scrape.Source, first, last int, pagePacer Pacer) {
	passID := uuid.NewString()
	logger := s.logger.With(
		zap.String("pass_id", passID),
		zap.String("tier", tier),
		zap.String("source", src.Name))

	for page := first; page <= last; page++ {
		if ctx.Err() != nil {
			return
		}
		if pagePacer != nil {
			pagePacer.Pace(ctx, src.Name)
		}

		pageURL := pipeline.BuildPageURL(src.Link, page)
		resp, err := s.fetcher.Fetch(ctx, pipeline.FetchRequest{PassID: passID, URL: pageURL})
		if err != nil {
			logger.Warn("listing fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		doc, err := scrape.NewDocument(resp.Body)
		if err != nil {
			logger.Warn("listing parse failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		for _, stub := range src.ExtractStubs(doc) {
			if ctx.Err() != nil {
				return
			}
			s.harvestStub(ctx, logger, passID, src, stub)
		}
	}
}

// harvestStub fetches the detail page behind one stub and stores the raw
// article. Stubs without a usable URL, and URLs already stored, are skipped
// before the detail fetch.
func (s *Scheduler) harvestStub(ctx context.Context, logger *zap.Logger, passID string, src scrape.Source, stub pipeline.ArticleStub) {
	if stub.URL == "" || !strings.HasPrefix(stub.URL, "http") {
		return
	}
	exists, err := s.store.RawExists(ctx, stub.URL)
	if err != nil {
		logger.Error("existence check failed", zap.String("url", stub.URL), zap.Error(err))
		return
	}
	if exists {
		return
	}

	s.insertPacer.Pace(ctx, src.Name)

	resp, err := s.fetcher.Fetch(ctx, pipeline.FetchRequest{PassID: passID, URL: stub.URL})
	if err != nil {
		logger.Warn("detail fetch failed", zap.String("url", stub.URL), zap.Error(err))
		return
	}
	doc, err := scrape.NewDocument(resp.Body)
	if err != nil {
		logger.Warn("detail parse failed", zap.String("url", stub.URL), zap.Error(err))
		return
	}

	inserted, err := s.store.InsertRaw(ctx, pipeline.RawArticle{
		Title:         stub.Title,
		URL:           stub.URL,
		PublishedDate: stub.Date,
		Body:          src.ExtractBody(doc),
		Source:        src.Name,
	})
	if err != nil {
		logger.Error("raw insert failed", zap.String("url", stub.URL), zap.Error(err))
		return
	}
	metrics.ObserveInsert(src.Name, !inserted)
	if inserted {
		logger.Info("raw article stored", zap.String("url", stub.URL), zap.String("title", stub.Title))
	}
}
