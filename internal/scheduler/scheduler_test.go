package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
	"github.com/orbitfeed/orbitfeed/internal/scrape"
)

func init() {
	metrics.Init()
}

const schedListingHTML = `
<html><body>
<header class="posts-list-header">
  <h3><a href="https://example.com/2026/08/booster-returns/">Booster returns to port</a></h3>
  <time datetime="2026-08-28T09:00:00Z">August 28, 2026</time>
</header>
<header class="posts-list-header">
  <h3><a href="https://example.com/2026/08/crew-launch/">Crew launch scheduled</a></h3>
  <time datetime="2026-08-27T12:00:00Z">August 27, 2026</time>
</header>
</body></html>`

const schedDetailHTML = `
<html><body>
<div id="main-content"><p>First paragraph.</p><p>Second paragraph.</p></div>
</body></html>`

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return pipeline.FetchResponse{}, fmt.Errorf("no page for %s", req.URL)
	}
	return pipeline.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type fakeRawStore struct {
	mu       sync.Mutex
	existing map[string]bool
	inserted []pipeline.RawArticle
}

func (f *fakeRawStore) RawExists(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[url], nil
}

func (f *fakeRawStore) InsertRaw(_ context.Context, a pipeline.RawArticle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[a.URL] {
		return false, nil
	}
	f.existing[a.URL] = true
	f.inserted = append(f.inserted, a)
	return true, nil
}

type nopPacer struct{}

func (nopPacer) Pace(context.Context, string) {}

func testSources() []scrape.Source {
	return []scrape.Source{{
		Name:      "archive-site",
		Link:      "https://example.com/news",
		Pages:     3,
		ListTag:   "header",
		ListClass: "posts-list-header",
		BodyByID:  "main-content",
	}}
}

func newTestScheduler(fetcher *fakeFetcher, store *fakeRawStore) *Scheduler {
	cfg := Config{FastPages: 2, FastInterval: time.Minute, BackfillInterval: time.Hour}
	return New(cfg, fetcher, store, testSources(), nopPacer{}, nopPacer{}, zap.NewNop())
}

func TestFastPassStoresNewArticles(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news":                     schedListingHTML,
		"https://example.com/news/page/2/":             "<html><body></body></html>",
		"https://example.com/2026/08/booster-returns/": schedDetailHTML,
		"https://example.com/2026/08/crew-launch/":     schedDetailHTML,
	}}
	store := &fakeRawStore{existing: map[string]bool{}}

	newTestScheduler(fetcher, store).FastPass(context.Background())

	require.Len(t, store.inserted, 2)
	got := store.inserted[0]
	require.Equal(t, "Booster returns to port", got.Title)
	require.Equal(t, "https://example.com/2026/08/booster-returns/", got.URL)
	require.Equal(t, "2026-08-28T09:00:00Z", got.PublishedDate)
	require.Equal(t, "First paragraph.\nSecond paragraph.", got.Body)
	require.Equal(t, "archive-site", got.Source)
}

func TestFastPassSkipsStoredURLsBeforeDetailFetch(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news":                     schedListingHTML,
		"https://example.com/news/page/2/":             "<html><body></body></html>",
		"https://example.com/2026/08/crew-launch/":     schedDetailHTML,
	}}
	store := &fakeRawStore{existing: map[string]bool{
		"https://example.com/2026/08/booster-returns/": true,
	}}

	newTestScheduler(fetcher, store).FastPass(context.Background())

	require.Len(t, store.inserted, 1)
	require.Equal(t, "https://example.com/2026/08/crew-launch/", store.inserted[0].URL)
	require.NotContains(t, fetcher.fetched, "https://example.com/2026/08/booster-returns/")
}

func TestBackfillPassCoversDeepPagesOnly(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news/page/3/": "<html><body></body></html>",
	}}
	store := &fakeRawStore{existing: map[string]bool{}}

	newTestScheduler(fetcher, store).BackfillPass(context.Background())

	require.Equal(t, []string{"https://example.com/news/page/3/"}, fetcher.fetched)
}

func TestCrawlSurvivesListingFetchError(t *testing.T) {
	// page 1 is missing from the fake fetcher; page 2 still gets crawled.
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://example.com/news/page/2/": schedListingHTML,
		"https://example.com/2026/08/booster-returns/": schedDetailHTML,
		"https://example.com/2026/08/crew-launch/":     schedDetailHTML,
	}}
	store := &fakeRawStore{existing: map[string]bool{}}

	newTestScheduler(fetcher, store).FastPass(context.Background())

	require.Len(t, store.inserted, 2)
}

func TestRunFastStopsOnCancel(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{}}
	store := &fakeRawStore{existing: map[string]bool{}}
	s := newTestScheduler(fetcher, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunFast(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunFast did not stop after cancellation")
	}
}
