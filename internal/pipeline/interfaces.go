package pipeline

import (
	"context"
	"time"
)

// Store persists raw articles, enriched articles, live feed items and tag
// rules. Implementations must swallow uniqueness violations as no-ops so
// retrying workers are always safe.
type Store interface {
	RawExists(ctx context.Context, url string) (bool, error)
	InsertRaw(ctx context.Context, article RawArticle) (inserted bool, err error)
	InsertEnriched(ctx context.Context, article EnrichedArticle) (inserted bool, err error)
	InsertLiveFeedItem(ctx context.Context, item LiveFeedItem) (inserted bool, err error)
	ListUnenriched(ctx context.Context) ([]RawArticle, error)
	ListUndeliveredArticles(ctx context.Context) ([]EnrichedArticle, error)
	ListUndeliveredLiveFeed(ctx context.Context) ([]LiveFeedItem, error)
	MarkDelivered(ctx context.Context, url string) error
	MarkLiveFeedDelivered(ctx context.Context, title string) error
	UpdateTags(ctx context.Context, url string, tags []string) error

	ListEnabledRules(ctx context.Context) ([]TagRule, error)
	ListRules(ctx context.Context) ([]TagRule, error)
	CreateRule(ctx context.Context, rule TagRule) (int64, error)
	UpdateRule(ctx context.Context, rule TagRule) error
	DeleteRule(ctx context.Context, id int64) error
	ListEnrichedArticles(ctx context.Context) ([]EnrichedArticle, error)

	Stats(ctx context.Context) (Stats, error)
	EnrichedTrend(ctx context.Context, days int) ([]TrendPoint, error)
	EnrichedByDate(ctx context.Context, date string) ([]EnrichedArticle, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Condenser reduces body text to a target length range.
type Condenser interface {
	Condense(ctx context.Context, text string, minWords, maxWords int) (string, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Messenger posts a rendered message to the external endpoint.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
