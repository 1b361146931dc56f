package scrape

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// LiveEntry is one candidate entry from the live page before window filtering.
type LiveEntry struct {
	Title     string
	EventDate time.Time
	Facts     []pipeline.Fact
	Body      string
}

var liveDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ExtractLiveEntries walks the live page and returns entries that carry a
// title, a parseable timestamp, a body and at least one structured fact.
// Entries missing any of those are dropped.
func ExtractLiveEntries(doc *goquery.Document) []LiveEntry {
	var entries []LiveEntry
	doc.Find("div.launch").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("h5").First().Text())
		if title == "" {
			title = strings.TrimSpace(sel.Find(".mission").First().Text())
		}

		eventDate, ok := parseLiveDate(sel)
		if !ok {
			return
		}

		var facts []pipeline.Fact
		sel.Find("ul li").Each(func(_ int, li *goquery.Selection) {
			key, value, found := strings.Cut(li.Text(), ":")
			if !found {
				return
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if key != "" && value != "" {
				facts = append(facts, pipeline.Fact{Key: key, Value: value})
			}
		})

		var paragraphs []string
		sel.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := strings.TrimSpace(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		body := strings.Join(paragraphs, "\n")

		if title == "" || body == "" || len(facts) == 0 {
			return
		}
		entries = append(entries, LiveEntry{
			Title:     title,
			EventDate: eventDate,
			Facts:     facts,
			Body:      body,
		})
	})
	return entries
}

func parseLiveDate(sel *goquery.Selection) (time.Time, bool) {
	raw, ok := sel.Find("time").First().Attr("datetime")
	if !ok {
		raw = strings.TrimSpace(sel.Find("time").First().Text())
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range liveDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
