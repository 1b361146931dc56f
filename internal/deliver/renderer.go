package deliver

import (
	"context"
	"strings"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// TranslateFunc renders text in the delivery language, degrading to the
// source text on failure.
type TranslateFunc func(ctx context.Context, text string) string

// LiveCategoryTag is the fixed tag appended to every live-feed message.
const LiveCategoryTag = "livefeed"

// Renderer assembles outgoing message text. Articles render as title, body,
// hash-prefixed tags and the source link; live items render as fact lines,
// body and the fixed category tag.
type Renderer struct {
	translate TranslateFunc
}

// NewRenderer builds a Renderer using translate for article titles.
func NewRenderer(translate TranslateFunc) *Renderer {
	return &Renderer{translate: translate}
}

// RenderArticle produces the title and text for one enriched article. The
// title is translated at render time; the body was translated at enrichment.
func (r *Renderer) RenderArticle(ctx context.Context, a pipeline.EnrichedArticle) (title, text string) {
	title = r.translate(ctx, a.Title)
	lines := []string{
		title,
		a.Translated,
		HashTags(a.Tags),
		a.URL,
	}
	return title, strings.Join(lines, "\n")
}

// RenderLiveItem produces the title and text for one live-feed item.
func (r *Renderer) RenderLiveItem(item pipeline.LiveFeedItem) (title, text string) {
	var lines []string
	for _, fact := range item.Facts {
		lines = append(lines, fact.Key+": "+fact.Value)
	}
	lines = append(lines, item.Translated, HashTags([]string{LiveCategoryTag}))
	return item.Title, strings.Join(lines, "\n")
}

// HashTags joins tags as hash-prefixed tokens, with spaces collapsed to
// underscores so each tag stays a single token.
func HashTags(tags []string) string {
	tokens := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		tokens = append(tokens, "#"+strings.ReplaceAll(tag, " ", "_"))
	}
	return strings.Join(tokens, " ")
}
