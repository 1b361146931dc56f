// Package scrape extracts article stubs and bodies from fetched HTML using
// source-specific selector rules.
package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/orbitfeed/orbitfeed/internal/config"
	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Date extraction strategies supported by listing pages.
const (
	DateFromAttr = "datetime_attr"
	DateFromText = "text"
)

// Source is a resolved extraction rule set for one configured site.
type Source struct {
	Name           string
	Link           string
	Pages          int
	ListTag        string
	ListClass      string
	DateStrategy   string
	BodyByID       string
	BodyByClass    string
	FirstBlockOnly bool
}

// FromConfig resolves the configured sources into extraction rules.
func FromConfig(sources map[string]config.SourceConfig) []Source {
	out := make([]Source, 0, len(sources))
	for name, sc := range sources {
		src := Source{
			Name:           name,
			Link:           sc.Link,
			Pages:          sc.Pages,
			ListTag:        sc.ListTag,
			ListClass:      sc.ListClass,
			DateStrategy:   sc.DateStrategy,
			BodyByID:       sc.BodyByID,
			BodyByClass:    sc.BodyByClass,
			FirstBlockOnly: sc.FirstBlockOnly,
		}
		if src.ListTag == "" {
			src.ListTag = "div"
		}
		if src.DateStrategy == "" {
			src.DateStrategy = DateFromAttr
		}
		out = append(out, src)
	}
	return out
}

// NewDocument parses raw HTML into a goquery document.
func NewDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// ExtractStubs pulls candidate article references off a listing page. Stubs
// with an empty title or URL are dropped here; URL dedup happens upstream.
func (s Source) ExtractStubs(doc *goquery.Document) []pipeline.ArticleStub {
	selector := s.ListTag
	if s.ListClass != "" {
		selector = fmt.Sprintf("%s.%s", s.ListTag, s.ListClass)
	}

	var stubs []pipeline.ArticleStub
	doc.Find(selector).Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find("h1, h2, h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(item.Find("a").First().Text())
		}

		href, _ := item.Find("a[href]").First().Attr("href")
		href = strings.TrimSpace(href)

		date := s.extractDate(item)

		if title == "" || href == "" || !strings.HasPrefix(href, "http") {
			return
		}
		stubs = append(stubs, pipeline.ArticleStub{Title: title, URL: href, Date: date})
	})
	return stubs
}

func (s Source) extractDate(item *goquery.Selection) string {
	timeTag := item.Find("time").First()
	switch s.DateStrategy {
	case DateFromText:
		return strings.TrimSpace(timeTag.Text())
	default:
		if dt, ok := timeTag.Attr("datetime"); ok {
			return strings.TrimSpace(dt)
		}
		return strings.TrimSpace(timeTag.Text())
	}
}

// ExtractBody pulls the full article text off a detail page, joining the
// paragraphs inside the configured container.
func (s Source) ExtractBody(doc *goquery.Document) string {
	var container *goquery.Selection
	if s.BodyByID != "" {
		container = doc.Find("#" + s.BodyByID).First()
	} else {
		container = doc.Find("." + s.BodyByClass).First()
	}
	if container.Length() == 0 {
		return ""
	}

	var paragraphs []string
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n")
}
