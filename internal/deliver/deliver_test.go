package deliver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbitfeed/orbitfeed/internal/metrics"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

func init() {
	metrics.Init()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeMessenger struct {
	sent []pipeline.Message
	fail bool
}

func (f *fakeMessenger) Send(_ context.Context, msg pipeline.Message) error {
	if f.fail {
		return errors.New("endpoint down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeArticleStore struct {
	articles []pipeline.EnrichedArticle
	marked   []string
}

func (f *fakeArticleStore) ListUndeliveredArticles(context.Context) ([]pipeline.EnrichedArticle, error) {
	var pending []pipeline.EnrichedArticle
	for _, a := range f.articles {
		if !a.Delivered {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

func (f *fakeArticleStore) MarkDelivered(_ context.Context, url string) error {
	for i := range f.articles {
		if f.articles[i].URL == url {
			f.articles[i].Delivered = true
		}
	}
	f.marked = append(f.marked, url)
	return nil
}

type fakeLiveStore struct {
	items  []pipeline.LiveFeedItem
	marked []string
}

func (f *fakeLiveStore) ListUndeliveredLiveFeed(context.Context) ([]pipeline.LiveFeedItem, error) {
	var pending []pipeline.LiveFeedItem
	for _, item := range f.items {
		if !item.Delivered {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

func (f *fakeLiveStore) MarkLiveFeedDelivered(_ context.Context, title string) error {
	for i := range f.items {
		if f.items[i].Title == title {
			f.items[i].Delivered = true
		}
	}
	f.marked = append(f.marked, title)
	return nil
}

func identityTranslate(_ context.Context, text string) string { return "fa:" + text }

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newArticleWorker(store *fakeArticleStore, messenger *fakeMessenger, suppressed [][]string) *ArticleWorker {
	cfg := Config{
		ChatID:         "chat-1",
		GracePeriod:    30 * time.Second,
		SuppressedTags: suppressed,
	}
	return NewArticleWorker(cfg, store, messenger, NewRenderer(identityTranslate), fixedClock{now: testNow}, zap.NewNop())
}

func deliverable() pipeline.EnrichedArticle {
	return pipeline.EnrichedArticle{
		Title:      "Booster returns",
		URL:        "https://example.com/a",
		Translated: "متن",
		Tags:       []string{"rocket", "crew"},
	}
}

func TestArticleDeliveryRendersAndMarks(t *testing.T) {
	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{deliverable()}}
	messenger := &fakeMessenger{}

	require.NoError(t, newArticleWorker(store, messenger, nil).RunOnce(context.Background()))

	require.Len(t, messenger.sent, 1)
	msg := messenger.sent[0]
	require.Equal(t, "chat-1", msg.ChatID)
	require.Equal(t, "fa:Booster returns", msg.Title)
	require.Equal(t, "fa:Booster returns\nمتن\n#rocket #crew\nhttps://example.com/a", msg.Text)
	require.Equal(t, testNow.Add(30*time.Second), msg.DeliverAfter)
	require.Equal(t, []string{"https://example.com/a"}, store.marked)
}

func TestArticleDeliveryExactlyOnceAcrossPasses(t *testing.T) {
	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{deliverable()}}
	messenger := &fakeMessenger{}
	w := newArticleWorker(store, messenger, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.NoError(t, w.RunOnce(context.Background()))

	require.Len(t, messenger.sent, 1)
	require.Len(t, store.marked, 1)
}

func TestArticleDeliveryRetriesAfterSendFailure(t *testing.T) {
	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{deliverable()}}
	messenger := &fakeMessenger{fail: true}
	w := newArticleWorker(store, messenger, nil)

	require.NoError(t, w.RunOnce(context.Background()))
	require.Empty(t, store.marked)

	// endpoint recovers; the next pass delivers the same row.
	messenger.fail = false
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, messenger.sent, 1)
	require.Equal(t, []string{"https://example.com/a"}, store.marked)
}

func TestArticleDeliverySkipsRowsWithNothingToSend(t *testing.T) {
	noBody := deliverable()
	noBody.URL = "https://example.com/no-body"
	noBody.Translated = ""
	noTags := deliverable()
	noTags.URL = "https://example.com/no-tags"
	noTags.Tags = nil

	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{noBody, noTags}}
	messenger := &fakeMessenger{}

	require.NoError(t, newArticleWorker(store, messenger, nil).RunOnce(context.Background()))
	require.Empty(t, messenger.sent)
	require.Empty(t, store.marked)
}

func TestSuppressedTagSetLeftPending(t *testing.T) {
	blocked := deliverable()
	blocked.URL = "https://example.com/blocked"
	blocked.Tags = []string{"launch", "orbit"}

	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{blocked, deliverable()}}
	messenger := &fakeMessenger{}

	// order-insensitive exact match
	w := newArticleWorker(store, messenger, [][]string{{"orbit", "launch"}})
	require.NoError(t, w.RunOnce(context.Background()))

	require.Len(t, messenger.sent, 1)
	require.Equal(t, []string{"https://example.com/a"}, store.marked)

	// the blocked row stays pending on every pass and is never marked.
	require.NoError(t, w.RunOnce(context.Background()))
	require.NotContains(t, store.marked, "https://example.com/blocked")
}

func TestSupersetOfBlockedTagsStillDelivers(t *testing.T) {
	superset := deliverable()
	superset.Tags = []string{"launch", "orbit", "crew"}
	store := &fakeArticleStore{articles: []pipeline.EnrichedArticle{superset}}
	messenger := &fakeMessenger{}

	w := newArticleWorker(store, messenger, [][]string{{"launch", "orbit"}})
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, messenger.sent, 1)
}

func TestLiveFeedDelivery(t *testing.T) {
	store := &fakeLiveStore{items: []pipeline.LiveFeedItem{{
		Title:      "Falcon 9 | Starlink Group 11-3",
		Facts:      []pipeline.Fact{{Key: "Launch site", Value: "SLC-40"}},
		Translated: "متن",
	}}}
	messenger := &fakeMessenger{}
	cfg := Config{ChatID: "chat-1", GracePeriod: 30 * time.Second}
	w := NewLiveFeedWorker(cfg, store, messenger, NewRenderer(identityTranslate), fixedClock{now: testNow}, zap.NewNop())

	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, messenger.sent, 1)
	msg := messenger.sent[0]
	require.Equal(t, "Falcon 9 | Starlink Group 11-3", msg.Title)
	require.Equal(t, "Launch site: SLC-40\nمتن\n#livefeed", msg.Text)
	require.Equal(t, []string{"Falcon 9 | Starlink Group 11-3"}, store.marked)

	// second pass sends nothing new.
	require.NoError(t, w.RunOnce(context.Background()))
	require.Len(t, messenger.sent, 1)
}

func TestHashTags(t *testing.T) {
	require.Equal(t, "#rocket #deep_space", HashTags([]string{"rocket", "deep space"}))
	require.Equal(t, "", HashTags(nil))
}

func TestHTTPMessengerPostsForm(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusAccepted) // any 2xx counts
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	m := NewHTTPMessenger(srv.URL, time.Second, zap.NewNop())
	err := m.Send(context.Background(), pipeline.Message{
		ChatID:       "chat-1",
		Title:        "t",
		Text:         "body",
		DeliverAfter: testNow,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"chat-1"}, form["chat_id"])
	require.Equal(t, []string{"body"}, form["text"])
	require.Equal(t, []string{"1788177600"}, form["date"])
}

func TestHTTPMessengerNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewHTTPMessenger(srv.URL, time.Second, zap.NewNop())
	err := m.Send(context.Background(), pipeline.Message{ChatID: "chat-1"})
	require.Error(t, err)
}

func TestRunLoopTakesImmediateFirstPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// An hour-long interval: only the startup pass can fire in time.
		runLoop(ctx, time.Hour, func(context.Context) error {
			select {
			case passes <- struct{}{}:
			default:
			}
			return nil
		}, zap.NewNop(), "articles")
	}()

	select {
	case <-passes:
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery pass before the first tick")
	}
	cancel()
	<-done
}
