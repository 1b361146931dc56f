package deliver

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// ArticleStore is the slice of the content store the article worker needs.
type ArticleStore interface {
	ListUndeliveredArticles(ctx context.Context) ([]pipeline.EnrichedArticle, error)
	MarkDelivered(ctx context.Context, url string) error
}

// LiveFeedStore is the slice of the content store the live-feed worker needs.
type LiveFeedStore interface {
	ListUndeliveredLiveFeed(ctx context.Context) ([]pipeline.LiveFeedItem, error)
	MarkLiveFeedDelivered(ctx context.Context, title string) error
}

// Config carries delivery cadence, destination and suppression sets.
type Config struct {
	ChatID           string
	ArticleInterval  time.Duration
	LiveFeedInterval time.Duration
	GracePeriod      time.Duration
	SuppressedTags   [][]string
}

// suppressionSet holds the blocked tag sets in canonical (sorted, joined)
// form for exact-match lookup.
type suppressionSet map[string]struct{}

func newSuppressionSet(sets [][]string) suppressionSet {
	out := suppressionSet{}
	for _, set := range sets {
		if len(set) > 0 {
			out[canonicalTags(set)] = struct{}{}
		}
	}
	return out
}

// Blocked reports whether tags exactly equals one of the blocked sets,
// ignoring order.
func (s suppressionSet) Blocked(tags []string) bool {
	if len(s) == 0 || len(tags) == 0 {
		return false
	}
	_, hit := s[canonicalTags(tags)]
	return hit
}

func canonicalTags(tags []string) string {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// ArticleWorker drains undelivered enriched articles on a short cadence.
// Rows lacking a translated body or tags are skipped; suppressed rows are
// skipped without marking, staying pending.
type ArticleWorker struct {
	cfg        Config
	store      ArticleStore
	messenger  pipeline.Messenger
	renderer   *Renderer
	clock      pipeline.Clock
	logger     *zap.Logger
	suppressed suppressionSet
}

// NewArticleWorker builds the article delivery worker.
func NewArticleWorker(cfg Config, store ArticleStore, messenger pipeline.Messenger, renderer *Renderer, clock pipeline.Clock, logger *zap.Logger) *ArticleWorker {
	return &ArticleWorker{
		cfg:        cfg,
		store:      store,
		messenger:  messenger,
		renderer:   renderer,
		clock:      clock,
		logger:     logger,
		suppressed: newSuppressionSet(cfg.SuppressedTags),
	}
}

// Run delivers pending articles until ctx is cancelled.
func (w *ArticleWorker) Run(ctx context.Context) {
	runLoop(ctx, w.cfg.ArticleInterval, w.RunOnce, w.logger, "article delivery")
}

// RunOnce performs one delivery pass over pending articles.
func (w *ArticleWorker) RunOnce(ctx context.Context) error {
	articles, err := w.store.ListUndeliveredArticles(ctx)
	if err != nil {
		return err
	}

	for _, a := range articles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if a.Translated == "" || len(a.Tags) == 0 {
			continue
		}
		if w.suppressed.Blocked(a.Tags) {
			metrics.ObserveSuppressed()
			continue
		}

		title, text := w.renderer.RenderArticle(ctx, a)
		err := w.messenger.Send(ctx, pipeline.Message{
			ChatID:       w.cfg.ChatID,
			Title:        title,
			Text:         text,
			DeliverAfter: w.clock.Now().Add(w.cfg.GracePeriod),
		})
		if err != nil {
			metrics.ObserveDelivery(string(pipeline.DeliverArticles), "error")
			w.logger.Warn("article delivery failed", zap.String("url", a.URL), zap.Error(err))
			continue
		}
		if err := w.store.MarkDelivered(ctx, a.URL); err != nil {
			w.logger.Error("mark delivered failed", zap.String("url", a.URL), zap.Error(err))
			continue
		}
		metrics.ObserveDelivery(string(pipeline.DeliverArticles), "ok")
		w.logger.Info("article delivered", zap.String("url", a.URL))
	}
	return nil
}

// LiveFeedWorker drains undelivered live-feed items on a daily cadence.
type LiveFeedWorker struct {
	cfg       Config
	store     LiveFeedStore
	messenger pipeline.Messenger
	renderer  *Renderer
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewLiveFeedWorker builds the live-feed delivery worker.
func NewLiveFeedWorker(cfg Config, store LiveFeedStore, messenger pipeline.Messenger, renderer *Renderer, clock pipeline.Clock, logger *zap.Logger) *LiveFeedWorker {
	return &LiveFeedWorker{
		cfg:       cfg,
		store:     store,
		messenger: messenger,
		renderer:  renderer,
		clock:     clock,
		logger:    logger,
	}
}

// Run delivers pending live-feed items until ctx is cancelled.
func (w *LiveFeedWorker) Run(ctx context.Context) {
	runLoop(ctx, w.cfg.LiveFeedInterval, w.RunOnce, w.logger, "live feed delivery")
}

// RunOnce performs one delivery pass over pending live-feed items.
func (w *LiveFeedWorker) RunOnce(ctx context.Context) error {
	items, err := w.store.ListUndeliveredLiveFeed(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if item.Translated == "" {
			continue
		}

		title, text := w.renderer.RenderLiveItem(item)
		err := w.messenger.Send(ctx, pipeline.Message{
			ChatID:       w.cfg.ChatID,
			Title:        title,
			Text:         text,
			DeliverAfter: w.clock.Now().Add(w.cfg.GracePeriod),
		})
		if err != nil {
			metrics.ObserveDelivery(string(pipeline.DeliverLiveFeed), "error")
			w.logger.Warn("live feed delivery failed", zap.String("title", item.Title), zap.Error(err))
			continue
		}
		if err := w.store.MarkLiveFeedDelivered(ctx, item.Title); err != nil {
			w.logger.Error("mark delivered failed", zap.String("title", item.Title), zap.Error(err))
			continue
		}
		metrics.ObserveDelivery(string(pipeline.DeliverLiveFeed), "ok")
		w.logger.Info("live feed item delivered", zap.String("title", item.Title))
	}
	return nil
}

// runLoop runs pass immediately and then on a fixed cadence until ctx is
// cancelled. Errors are logged; the loop never terminates on a failed pass.
// The immediate pass drains rows left pending by a previous run at startup.
func runLoop(ctx context.Context, interval time.Duration, pass func(context.Context) error, logger *zap.Logger, name string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := pass(ctx); err != nil {
		logger.Error("delivery pass failed", zap.String("worker", name), zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pass(ctx); err != nil {
				logger.Error("delivery pass failed", zap.String("worker", name), zap.Error(err))
			}
		}
	}
}
