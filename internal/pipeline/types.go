// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// RawArticle is an unprocessed fetched article, keyed by URL.
// Rows are created on first sighting and never mutated or deleted.
type RawArticle struct {
	Title         string
	URL           string
	PublishedDate string
	Body          string
	Source        string
	CreatedAt     time.Time
}

// EnrichedArticle is a raw article after condensation, translation and tagging.
// Delivered transitions false to true exactly once.
type EnrichedArticle struct {
	ID            int64
	Title         string
	URL           string
	PublishedDate string
	Body          string
	Condensed     string
	Translated    string
	Source        string
	Tags          []string
	Delivered     bool
	CreatedAt     time.Time
}

// Fact is one structured key/value line extracted from the live feed page.
type Fact struct {
	Key   string
	Value string
}

// LiveFeedItem is an entry from the always-current live page, keyed by title.
type LiveFeedItem struct {
	Title      string
	Facts      []Fact
	Body       string
	EventDate  time.Time
	Translated string
	Delivered  bool
	CreatedAt  time.Time
}

// TagRule is a user-editable (pattern, tag) pair consulted as live
// configuration by the enrichment worker and the reconciliation job.
type TagRule struct {
	ID        int64
	Pattern   string
	Tag       string
	Enabled   bool
	CreatedAt time.Time
}

// ArticleStub is a candidate article reference extracted from a listing page.
type ArticleStub struct {
	Title string
	URL   string
	Date  string
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	PassID  string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// DeliveryKind selects which undelivered rows a delivery worker drains.
type DeliveryKind string

// Delivery kinds handled by the delivery workers.
const (
	DeliverArticles DeliveryKind = "articles"
	DeliverLiveFeed DeliveryKind = "live_feed"
)

// Message is a rendered payload ready for the external messaging endpoint.
type Message struct {
	ChatID       string
	Title        string
	Text         string
	DeliverAfter time.Time
}

// Stats summarizes store contents for the admin API.
type Stats struct {
	TotalRaw      int64
	TotalEnriched int64
	TagCounts     map[string]int64
}

// TrendPoint is one day of the enriched-article trend.
type TrendPoint struct {
	Date  string
	Count int64
}
